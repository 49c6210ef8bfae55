package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"preconsult/internal/facts"
	"preconsult/internal/script"
)

func serotonin(t *testing.T) script.ConditionScript {
	t.Helper()
	c, err := script.Default()
	require.NoError(t, err)
	sc, err := c.Get("serotonin-syndrome")
	require.NoError(t, err)
	return sc
}

var header = Header{PatientName: "Sofía Zamora", ConditionTitle: "Serotonin syndrome"}

func build(sc script.ConditionScript, watermark int) Report {
	fs := facts.Extract(watermark, sc.Rules, sc.Seeds)
	return Build(header, fs, sc, watermark == sc.LastIndex())
}

func TestBuild(t *testing.T) {
	sc := serotonin(t)

	got := build(sc, 9)
	want := Report{
		Header:         header,
		ChiefComplaint: "Agitation, restlessness and confusion.",
		HPI:            []string{"Sudden onset ~2 days ago; insomnia."},
		RecordHistory:  []string{"Chronic condition declared in the patient record"},
		Medications: []Medication{
			{Text: "Usual medication per chart (if applicable)", Source: SourceRecord},
			{Text: "Fluoxetine (SSRI) — chronic use.", Source: SourceRecord},
			{Text: "Dextromethorphan — recent use.", Source: SourceInterview},
		},
		Useful: []string{"Diaphoresis, chills, rigidity.", "Mydriasis and abnormal eye movements."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Build mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_ChiefComplaintIsFirstFact(t *testing.T) {
	fs := facts.FactSet{facts.ChiefComplaint: {"first", "second"}}
	r := Build(header, fs, script.ConditionScript{}, false)
	assert.Equal(t, "first", r.ChiefComplaint)
}

func TestMarkdown_Seeded(t *testing.T) {
	r := build(serotonin(t), -1)

	want := `# Generated report

**Patient:** Sofía Zamora • **Condition:** Serotonin syndrome

## Chief complaint

—

## History of present illness (HPI)

—

## Relevant history (record)

- Chronic condition declared in the patient record

## Medications (record and interview)

- Usual medication per chart (if applicable)
`
	assert.Equal(t, want, r.Markdown())
}

func TestMarkdown_SectionOrder(t *testing.T) {
	sc := serotonin(t)
	md := build(sc, sc.LastIndex()).Markdown()

	headings := []string{
		"# Generated report",
		"## Chief complaint",
		"## History of present illness (HPI)",
		"## Relevant history (record)",
		"## Medications (record and interview)",
		"## Useful facts",
		"## Not covered but useful",
	}
	last := -1
	for _, h := range headings {
		i := strings.Index(md, h)
		require.GreaterOrEqual(t, i, 0, "missing %q", h)
		assert.Greater(t, i, last, "%q out of order", h)
		last = i
	}

	assert.Contains(t, md, "- Dextromethorphan — recent use. _(interview)_")
	assert.Less(t,
		strings.Index(md, "Fluoxetine (SSRI) — chronic use."),
		strings.Index(md, "Dextromethorphan"))
	assert.Contains(t, md, "- Denies alcohol/stimulants.")
}

func TestMarkdown_MissingOnlyWhenComplete(t *testing.T) {
	sc := serotonin(t)
	for w := -1; w < sc.LastIndex(); w++ {
		md := build(sc, w).Markdown()
		assert.NotContains(t, md, "Not covered but useful", "watermark %d", w)
		assert.NotContains(t, md, sc.Missing[0], "watermark %d", w)
	}
	md := build(sc, sc.LastIndex()).Markdown()
	for _, m := range sc.Missing {
		assert.Contains(t, md, "- "+m)
	}
}

func TestMarkdown_Deterministic(t *testing.T) {
	sc := serotonin(t)
	a := build(sc, 11)
	b := build(sc, 11)
	b.Header.GeneratedAt = time.Now()
	assert.Equal(t, a.Markdown(), b.Markdown())
}

func TestRenderPDF_NoFont(t *testing.T) {
	_, err := RenderPDF(build(serotonin(t), 3), []string{"/nonexistent/font.ttf"})
	assert.ErrorIs(t, err, ErrFontUnavailable)

	_, err = RenderPDF(build(serotonin(t), 3), nil)
	assert.ErrorIs(t, err, ErrFontUnavailable)
}

type fakeTelegram struct {
	messages  []string
	documents []string
	err       error
}

func (f *fakeTelegram) SendMessage(_ context.Context, _ int64, text string) error {
	f.messages = append(f.messages, text)
	return f.err
}

func (f *fakeTelegram) SendDocument(_ context.Context, _ int64, _ []byte, name string) error {
	f.documents = append(f.documents, name)
	return f.err
}

func TestService_FallsBackToText(t *testing.T) {
	tg := &fakeTelegram{}
	svc := NewService(tg, 42, []string{"/nonexistent/font.ttf"}, zap.NewNop())
	r := build(serotonin(t), 5)

	d, err := svc.SendDoctorReport(context.Background(), r, "abc")
	require.NoError(t, err)
	assert.Equal(t, DeliveredText, d)
	require.Len(t, tg.messages, 1)
	assert.Equal(t, r.Markdown(), tg.messages[0])
	assert.Empty(t, tg.documents)
}

func TestService_PropagatesSendError(t *testing.T) {
	tg := &fakeTelegram{err: errors.New("boom")}
	svc := NewService(tg, 42, []string{"/nonexistent/font.ttf"}, zap.NewNop())

	_, err := svc.SendDoctorReport(context.Background(), build(serotonin(t), 5), "abc")
	assert.ErrorContains(t, err, "boom")
}

func TestService_Disabled(t *testing.T) {
	svc := NewService(&fakeTelegram{}, 0, nil, zap.NewNop())
	_, err := svc.SendDoctorReport(context.Background(), Report{}, "x")
	assert.ErrorIs(t, err, ErrDeliveryDisabled)

	svc = NewService(nil, 42, nil, zap.NewNop())
	_, err = svc.SendDoctorReport(context.Background(), Report{}, "x")
	assert.ErrorIs(t, err, ErrDeliveryDisabled)
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "3f2a-11", fileSafe("3f2a-11"))
	assert.Equal(t, "a_b", fileSafe("a/../b"))
	assert.Equal(t, "consultation", fileSafe("///"))
}
