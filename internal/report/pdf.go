package report

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/signintech/gopdf"
)

var ErrFontUnavailable = errors.New("no usable font for PDF report")

// DefaultFontPaths are common DejaVuSans locations; the font covers accented
// Latin text.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontName    = "DejaVu"
	textWidth   = 500
	pageBottom  = 780
	lineHeight  = 14
	sectionSkip = 10
)

type pdfWriter struct {
	pdf gopdf.GoPdf
	err error
}

func (w *pdfWriter) font(size float64) {
	if w.err != nil {
		return
	}
	w.err = w.pdf.SetFont(fontName, "", size)
}

func (w *pdfWriter) line(text string) {
	if w.err != nil {
		return
	}
	lines, err := w.pdf.SplitText(text, textWidth)
	if err != nil {
		w.err = err
		return
	}
	for _, l := range lines {
		if w.pdf.GetY() > pageBottom {
			w.pdf.AddPage()
		}
		if err := w.pdf.Cell(nil, l); err != nil {
			w.err = err
			return
		}
		w.pdf.Br(lineHeight)
	}
}

func (w *pdfWriter) section(title string, items []string) {
	w.font(13)
	w.line(title)
	w.font(11)
	if len(items) == 0 {
		w.line(emptyMark)
	}
	for _, it := range items {
		w.line("• " + it)
	}
	w.pdf.Br(sectionSkip)
}

// RenderPDF renders r as an A4 PDF using the first font in fontPaths that
// loads.
func RenderPDF(r Report, fontPaths []string) ([]byte, error) {
	w := &pdfWriter{}
	w.pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	w.pdf.AddPage()

	var lastErr error
	loaded := false
	for _, path := range fontPaths {
		if err := w.pdf.AddTTFFont(fontName, path); err != nil {
			lastErr = err
			continue
		}
		loaded = true
		break
	}
	if !loaded {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrFontUnavailable, lastErr)
		}
		return nil, ErrFontUnavailable
	}

	w.font(20)
	w.line("Generated report")
	w.pdf.Br(sectionSkip)

	w.font(12)
	w.line("Patient: " + orEmpty(r.Header.PatientName))
	if r.Header.PatientSummary != "" {
		w.line(r.Header.PatientSummary)
	}
	w.line("Condition: " + orEmpty(r.Header.ConditionTitle))
	if !r.Header.GeneratedAt.IsZero() {
		w.line("Date: " + r.Header.GeneratedAt.Format("02.01.2006 15:04"))
	}
	w.pdf.Br(sectionSkip)

	var cc []string
	if r.ChiefComplaint != "" {
		cc = []string{r.ChiefComplaint}
	}
	w.section("Chief complaint", cc)
	w.section("History of present illness (HPI)", r.HPI)
	w.section("Relevant history (record)", r.RecordHistory)

	meds := make([]string, 0, len(r.Medications))
	for _, m := range r.Medications {
		if m.Source == SourceInterview {
			meds = append(meds, m.Text+" (interview)")
			continue
		}
		meds = append(meds, m.Text)
	}
	w.section("Medications (record and interview)", meds)

	if len(r.Useful) > 0 {
		w.section("Useful facts", r.Useful)
	}
	if r.Complete && len(r.Missing) > 0 {
		w.section("Not covered but useful", r.Missing)
	}

	if w.err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", w.err)
	}

	var buf bytes.Buffer
	if _, err := w.pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}
