package consultation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"preconsult/internal/interview"
	"preconsult/internal/platform/metrics"
	"preconsult/internal/report"
	"preconsult/internal/roster"
	"preconsult/internal/script"
)

type fakeReports struct {
	pdfErr  error
	sendErr error
	sent    []string
}

func (f *fakeReports) PDF(report.Report) ([]byte, error) {
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return []byte("%PDF-1.4"), nil
}

func (f *fakeReports) SendDoctorReport(_ context.Context, _ report.Report, name string) (report.Delivery, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, name)
	return report.DeliveredPDF, nil
}

type fixture struct {
	svc     Service
	metrics *metrics.Collector
	reports *fakeReports
	catalog *script.Catalog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	catalog, err := script.Default()
	require.NoError(t, err)
	patients, err := roster.Default()
	require.NoError(t, err)

	m := metrics.NewCollector("test", prometheus.NewRegistry())
	reports := &fakeReports{}
	return &fixture{
		svc:     NewService(NewRepository(), catalog, patients, reports, m, zap.NewNop(), opts...),
		metrics: m,
		reports: reports,
		catalog: catalog,
	}
}

// interviewing returns a consultation already on the interview step.
func (f *fixture) interviewing(t *testing.T, conditionID string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.Create(ctx)
	require.NoError(t, err)
	_, err = f.svc.SelectPatient(ctx, v.ID, "szamora")
	require.NoError(t, err)
	_, err = f.svc.SelectCondition(ctx, v.ID, conditionID)
	require.NoError(t, err)
	_, err = f.svc.Intro(ctx, v.ID)
	require.NoError(t, err)
	_, err = f.svc.StartInterview(ctx, v.ID)
	require.NoError(t, err)
	return v.ID
}

func TestWalkthrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.svc.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepSelect, v.Step)
	assert.Equal(t, interview.StateNotStarted, v.State)
	assert.Nil(t, v.Report)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConsultationsCreated))

	_, err = f.svc.Intro(ctx, v.ID)
	assert.ErrorIs(t, err, ErrSelectionIncomplete)

	v, err = f.svc.SelectPatient(ctx, v.ID, "szamora")
	require.NoError(t, err)
	require.NotNil(t, v.Patient)
	assert.Equal(t, "Sofía Zamora", v.Patient.Name)

	_, err = f.svc.Intro(ctx, v.ID)
	assert.ErrorIs(t, err, ErrSelectionIncomplete)

	v, err = f.svc.SelectCondition(ctx, v.ID, "serotonin-syndrome")
	require.NoError(t, err)
	require.NotNil(t, v.Condition)
	assert.Equal(t, 17, v.TotalTurns)

	v, err = f.svc.Intro(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StepIntro, v.Step)

	v, err = f.svc.StartInterview(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StepInterview, v.Step)
	assert.Equal(t, -1, v.Watermark)
	assert.Empty(t, v.Transcript)
	require.NotNil(t, v.Report)
	assert.Equal(t, "Sofía Zamora", v.Report.Header.PatientName)
	assert.Empty(t, v.Report.ChiefComplaint)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InterviewsStarted.WithLabelValues("serotonin-syndrome")))
}

func TestSelection_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.SelectPatient(ctx, v.ID, "nobody")
	assert.ErrorIs(t, err, roster.ErrPatientNotFound)

	_, err = f.svc.SelectCondition(ctx, v.ID, "scurvy")
	assert.ErrorIs(t, err, script.ErrUnknownCondition)
	var uce *script.UnknownConditionError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, "scurvy", uce.ConditionID)

	_, err = f.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrConsultationNotFound)
}

func TestStepGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.Advance(ctx, v.ID)
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = f.svc.StartInterview(ctx, v.ID)
	assert.ErrorIs(t, err, ErrWrongStep)

	id := f.interviewing(t, "flu")
	_, err = f.svc.SelectPatient(ctx, id, "aduarte")
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = f.svc.Intro(ctx, id)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestAdvance_ToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "serotonin-syndrome")

	var v View
	var err error
	for range 17 {
		v, err = f.svc.Advance(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 16, v.Watermark)
	assert.Equal(t, interview.StateComplete, v.State)
	assert.Equal(t, CompletionBanner, v.Banner)
	assert.Len(t, v.Transcript, 17)
	require.NotNil(t, v.Report)
	assert.True(t, v.Report.Complete)
	assert.NotEmpty(t, v.Report.Missing)

	v, err = f.svc.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 16, v.Watermark)

	settled := testutil.ToFloat64(f.metrics.TurnsSettled.WithLabelValues("assistant")) +
		testutil.ToFloat64(f.metrics.TurnsSettled.WithLabelValues("patient"))
	assert.Equal(t, 17.0, settled)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InterviewsCompleted.WithLabelValues("serotonin-syndrome")))
}

func TestTranscriptMatchesScript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	v, err := f.svc.Jump(ctx, id, 3)
	require.NoError(t, err)

	sc, err := f.catalog.Get("flu")
	require.NoError(t, err)
	require.Len(t, v.Transcript, 4)
	for i, tv := range v.Transcript {
		assert.Equal(t, i, tv.Index)
		assert.Equal(t, sc.Turns[i].Speaker, tv.Speaker)
		assert.Equal(t, sc.Turns[i].Speaker.Label(), tv.Label)
		assert.Equal(t, sc.Turns[i].Text, tv.Text)
		assert.Nil(t, tv.SettledAt)
	}
}

func TestSettle_CompareAndAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	v, ok, err := f.svc.Settle(ctx, id, -1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, v.Watermark)

	v, ok, err = f.svc.Settle(ctx, id, -1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, v.Watermark)
}

func TestSettle_FinishesRevealAfterPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	_, err := f.svc.Pause(ctx, id)
	require.NoError(t, err)

	v, ok, err := f.svc.Settle(ctx, id, -1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, v.Watermark)
	assert.Equal(t, interview.StatePaused, v.State)
	assert.Len(t, v.Transcript, 1)

	v, err = f.svc.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Watermark)
}

func TestJump_ClearsPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	_, err := f.svc.Pause(ctx, id)
	require.NoError(t, err)
	v, err := f.svc.Jump(ctx, id, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Watermark)
	assert.Equal(t, interview.StateRevealing, v.State)
}

func TestSettle_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "migraine")

	var advanced atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := f.svc.Settle(ctx, id, -1)
			assert.NoError(t, err)
			if ok {
				advanced.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), advanced.Load())
	v, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Watermark)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "malaria")

	_, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)
	v, err := f.svc.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interview.StatePaused, v.State)

	v, err = f.svc.Advance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Watermark)

	v, err = f.svc.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interview.StateRevealing, v.State)

	v, err = f.svc.Skip(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, interview.StateComplete, v.State)
}

func TestTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, WithClock(clock), WithTimestamps(true))
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	_, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)
	now = now.Add(time.Minute)
	v, err := f.svc.Advance(ctx, id)
	require.NoError(t, err)

	require.Len(t, v.Transcript, 2)
	require.NotNil(t, v.Transcript[0].SettledAt)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), *v.Transcript[0].SettledAt)
	assert.Equal(t, now, *v.Transcript[1].SettledAt)

	v, err = f.svc.Reset(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, v.Transcript)

	now = now.Add(time.Hour)
	v, err = f.svc.Advance(ctx, id)
	require.NoError(t, err)
	require.Len(t, v.Transcript, 1)
	assert.Equal(t, now, *v.Transcript[0].SettledAt)
}

func TestChangingConditionResetsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	_, err := f.svc.Jump(ctx, id, 5)
	require.NoError(t, err)

	_, err = f.svc.Back(ctx, id)
	require.NoError(t, err)
	v, err := f.svc.Back(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StepSelect, v.Step)
	assert.Equal(t, 5, v.Watermark, "going back keeps the session")

	v, err = f.svc.SelectCondition(ctx, id, "flu")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Watermark, "same condition keeps the session")

	v, err = f.svc.SelectCondition(ctx, id, "malaria")
	require.NoError(t, err)
	assert.Equal(t, -1, v.Watermark)
	assert.Nil(t, v.Report)
	assert.Equal(t, "malaria", v.Condition.ID)
}

func TestBackAndRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	v, err := f.svc.Back(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StepIntro, v.Step)

	v, err = f.svc.StartInterview(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StepInterview, v.Step)

	v, err = f.svc.Restart(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StepSelect, v.Step)
	assert.Nil(t, v.Patient)
	assert.Nil(t, v.Condition)
	assert.Equal(t, interview.StateNotStarted, v.State)

	v, err = f.svc.Back(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StepSelect, v.Step)
}

func TestClearSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Create(ctx)
	require.NoError(t, err)
	_, err = f.svc.SelectPatient(ctx, v.ID, "nvelarde")
	require.NoError(t, err)

	v, err = f.svc.ClearSelection(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Patient)
	assert.Equal(t, StepSelect, v.Step)
}

func TestReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Create(ctx)
	require.NoError(t, err)

	_, err = f.svc.ExportMarkdown(ctx, v.ID)
	assert.ErrorIs(t, err, interview.ErrSessionNotStarted)

	id := f.interviewing(t, "serotonin-syndrome")
	_, err = f.svc.Jump(ctx, id, 1)
	require.NoError(t, err)

	md, err := f.svc.ExportMarkdown(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, md, "**Patient:** Sofía Zamora • **Condition:** Serotonin syndrome")
	assert.Contains(t, md, "Agitation, restlessness and confusion.")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReportsExported.WithLabelValues("markdown")))

	data, name, err := f.svc.ExportPDF(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
	assert.Equal(t, "report_"+id.String()+".pdf", name)

	d, err := f.svc.SendReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report.DeliveredPDF, d)
	assert.Equal(t, []string{id.String()}, f.reports.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReportDeliveries.WithLabelValues("pdf")))
}

func TestSendReport_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	f.reports.sendErr = report.ErrDeliveryDisabled
	_, err := f.svc.SendReport(ctx, id)
	assert.ErrorIs(t, err, report.ErrDeliveryDisabled)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReportDeliveries.WithLabelValues("disabled")))

	f.reports.sendErr = errors.New("telegram down")
	_, err = f.svc.SendReport(ctx, id)
	assert.ErrorContains(t, err, "telegram down")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReportDeliveries.WithLabelValues("error")))
}

func TestCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.interviewing(t, "flu")

	cur, err := f.svc.Cursor(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, -1, cur.Watermark)
	assert.True(t, cur.HasPending)
	assert.Equal(t, script.SpeakerAssistant, cur.Pending.Speaker)

	_, err = f.svc.Skip(ctx, id)
	require.NoError(t, err)
	cur, err = f.svc.Cursor(ctx, id)
	require.NoError(t, err)
	assert.False(t, cur.HasPending)
	assert.Equal(t, interview.StateComplete, cur.State)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.svc.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, v.ID))
	_, err = f.svc.Get(ctx, v.ID)
	assert.ErrorIs(t, err, ErrConsultationNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, v.ID), ErrConsultationNotFound)
}
