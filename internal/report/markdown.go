package report

import (
	"fmt"
	"strings"
)

const emptyMark = "—"

// Markdown renders the report with a fixed section order. It does not include
// the generation time, so equal reports render to equal bytes.
func (r Report) Markdown() string {
	var b strings.Builder

	b.WriteString("# Generated report\n\n")
	fmt.Fprintf(&b, "**Patient:** %s • **Condition:** %s\n\n",
		orEmpty(r.Header.PatientName), orEmpty(r.Header.ConditionTitle))
	if r.Header.PatientSummary != "" {
		fmt.Fprintf(&b, "_%s_\n\n", r.Header.PatientSummary)
	}

	b.WriteString("## Chief complaint\n\n")
	b.WriteString(orEmpty(r.ChiefComplaint))
	b.WriteString("\n\n")

	b.WriteString("## History of present illness (HPI)\n\n")
	writeList(&b, r.HPI)

	b.WriteString("## Relevant history (record)\n\n")
	writeList(&b, r.RecordHistory)

	b.WriteString("## Medications (record and interview)\n\n")
	meds := make([]string, 0, len(r.Medications))
	for _, m := range r.Medications {
		if m.Source == SourceInterview {
			meds = append(meds, m.Text+" _(interview)_")
			continue
		}
		meds = append(meds, m.Text)
	}
	writeList(&b, meds)

	if len(r.Useful) > 0 {
		b.WriteString("## Useful facts\n\n")
		writeList(&b, r.Useful)
	}

	if r.Complete && len(r.Missing) > 0 {
		b.WriteString("## Not covered but useful\n\n")
		writeList(&b, r.Missing)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString(emptyMark + "\n\n")
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func orEmpty(s string) string {
	if s == "" {
		return emptyMark
	}
	return s
}
