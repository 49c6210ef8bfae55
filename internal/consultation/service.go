package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"preconsult/internal/interview"
	"preconsult/internal/platform/metrics"
	"preconsult/internal/report"
	"preconsult/internal/roster"
	"preconsult/internal/script"
)

// Catalog supplies condition scripts and their selectable metadata.
type Catalog interface {
	interview.Catalog
	Has(conditionID string) bool
}

// PatientDirectory resolves patients by id.
type PatientDirectory interface {
	Get(id string) (roster.Patient, error)
}

// ReportService renders and delivers reports.
type ReportService interface {
	PDF(r report.Report) ([]byte, error)
	SendDoctorReport(ctx context.Context, r report.Report, name string) (report.Delivery, error)
}

type Service interface {
	Create(ctx context.Context) (View, error)
	Get(ctx context.Context, id uuid.UUID) (View, error)
	Delete(ctx context.Context, id uuid.UUID) error

	SelectPatient(ctx context.Context, id uuid.UUID, patientID string) (View, error)
	SelectCondition(ctx context.Context, id uuid.UUID, conditionID string) (View, error)
	ClearSelection(ctx context.Context, id uuid.UUID) (View, error)
	Intro(ctx context.Context, id uuid.UUID) (View, error)
	StartInterview(ctx context.Context, id uuid.UUID) (View, error)
	Back(ctx context.Context, id uuid.UUID) (View, error)
	Restart(ctx context.Context, id uuid.UUID) (View, error)

	Advance(ctx context.Context, id uuid.UUID) (View, error)
	Settle(ctx context.Context, id uuid.UUID, expectedWatermark int) (View, bool, error)
	Pause(ctx context.Context, id uuid.UUID) (View, error)
	Resume(ctx context.Context, id uuid.UUID) (View, error)
	Reset(ctx context.Context, id uuid.UUID) (View, error)
	Skip(ctx context.Context, id uuid.UUID) (View, error)
	Jump(ctx context.Context, id uuid.UUID, index int) (View, error)
	Cursor(ctx context.Context, id uuid.UUID) (Cursor, error)

	Report(ctx context.Context, id uuid.UUID) (report.Report, error)
	ExportMarkdown(ctx context.Context, id uuid.UUID) (string, error)
	ExportPDF(ctx context.Context, id uuid.UUID) ([]byte, string, error)
	SendReport(ctx context.Context, id uuid.UUID) (report.Delivery, error)
}

type Option func(*service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithTimestamps exposes per-turn settle times in views.
func WithTimestamps(show bool) Option {
	return func(s *service) { s.showTimestamps = show }
}

type service struct {
	repo      Repository
	catalog   Catalog
	patients  PatientDirectory
	reportSvc ReportService
	metrics   *metrics.Collector
	log       *zap.Logger

	now            func() time.Time
	showTimestamps bool
}

func NewService(repo Repository, catalog Catalog, patients PatientDirectory, reportSvc ReportService, m *metrics.Collector, log *zap.Logger, opts ...Option) Service {
	s := &service{
		repo:      repo,
		catalog:   catalog,
		patients:  patients,
		reportSvc: reportSvc,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *service) Create(ctx context.Context) (View, error) {
	now := s.now()
	c := &Consultation{
		ID:        uuid.New(),
		Step:      StepSelect,
		Session:   interview.New(s.catalog),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return View{}, err
	}
	s.metrics.ConsultationsCreated.Inc()
	s.log.Info("consultation created", zap.String("consultation_id", c.ID.String()))

	c.mu.Lock()
	defer c.mu.Unlock()
	return s.view(c), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (View, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.view(c), nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("consultation deleted", zap.String("consultation_id", id.String()))
	return nil
}

// mutate runs fn with the consultation locked and returns the resulting view.
func (s *service) mutate(ctx context.Context, id uuid.UUID, fn func(c *Consultation) error) (View, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := fn(c); err != nil {
		return View{}, err
	}
	c.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, c); err != nil {
		return View{}, err
	}
	return s.view(c), nil
}

func requireStep(c *Consultation, want Step) error {
	if c.Step != want {
		return fmt.Errorf("%w: on %s, need %s", ErrWrongStep, c.Step, want)
	}
	return nil
}

// resetSession discards the session and its settle times.
func (s *service) resetSession(c *Consultation) {
	c.Session = interview.New(s.catalog)
	c.SettledAt = nil
}

func (s *service) SelectPatient(ctx context.Context, id uuid.UUID, patientID string) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if err := requireStep(c, StepSelect); err != nil {
			return err
		}
		if _, err := s.patients.Get(patientID); err != nil {
			return err
		}
		c.PatientID = patientID
		return nil
	})
}

func (s *service) SelectCondition(ctx context.Context, id uuid.UUID, conditionID string) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if err := requireStep(c, StepSelect); err != nil {
			return err
		}
		if !s.catalog.Has(conditionID) {
			return &script.UnknownConditionError{ConditionID: conditionID}
		}
		if c.ConditionID != conditionID {
			c.ConditionID = conditionID
			s.resetSession(c)
		}
		return nil
	})
}

func (s *service) ClearSelection(ctx context.Context, id uuid.UUID) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if err := requireStep(c, StepSelect); err != nil {
			return err
		}
		c.PatientID = ""
		c.ConditionID = ""
		s.resetSession(c)
		return nil
	})
}

func (s *service) Intro(ctx context.Context, id uuid.UUID) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if err := requireStep(c, StepSelect); err != nil {
			return err
		}
		if c.PatientID == "" || c.ConditionID == "" {
			return ErrSelectionIncomplete
		}
		c.Step = StepIntro
		return nil
	})
}

// StartInterview loads the selected script and rewinds it. Calling it again
// during the interview starts over.
func (s *service) StartInterview(ctx context.Context, id uuid.UUID) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if c.Step == StepSelect {
			return fmt.Errorf("%w: on %s, need %s", ErrWrongStep, c.Step, StepIntro)
		}
		if err := c.Session.Start(c.ConditionID); err != nil {
			return err
		}
		c.SettledAt = nil
		c.Step = StepInterview

		s.metrics.InterviewsStarted.WithLabelValues(c.ConditionID).Inc()
		s.log.Info("interview started",
			zap.String("consultation_id", c.ID.String()),
			zap.String("condition_id", c.ConditionID),
		)
		return nil
	})
}

func (s *service) Back(ctx context.Context, id uuid.UUID) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		switch c.Step {
		case StepInterview:
			c.Step = StepIntro
		case StepIntro:
			c.Step = StepSelect
		}
		return nil
	})
}

func (s *service) Restart(ctx context.Context, id uuid.UUID) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		c.PatientID = ""
		c.ConditionID = ""
		c.Step = StepSelect
		s.resetSession(c)
		return nil
	})
}

// interviewing runs fn against the session and accounts for every turn it
// settled.
func (s *service) interviewing(ctx context.Context, id uuid.UUID, fn func(c *Consultation) error) (View, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if err := requireStep(c, StepInterview); err != nil {
			return err
		}
		before := c.Session.Watermark()
		wasComplete := c.Session.Complete()
		if err := fn(c); err != nil {
			return err
		}
		s.recordSettled(c, before, wasComplete)
		return nil
	})
}

func (s *service) recordSettled(c *Consultation, before int, wasComplete bool) {
	after := c.Session.Watermark()
	if after < len(c.SettledAt)-1 {
		c.SettledAt = c.SettledAt[:after+1]
	}
	if after <= before {
		return
	}

	now := s.now()
	for _, t := range c.Session.Settled()[before+1:] {
		c.SettledAt = append(c.SettledAt, now)
		s.metrics.TurnsSettled.WithLabelValues(t.Speaker.String()).Inc()
	}
	s.log.Debug("turns settled",
		zap.String("consultation_id", c.ID.String()),
		zap.Int("watermark", after),
	)

	if c.Session.Complete() && !wasComplete {
		s.metrics.InterviewsCompleted.WithLabelValues(c.ConditionID).Inc()
		s.log.Info("interview complete",
			zap.String("consultation_id", c.ID.String()),
			zap.String("condition_id", c.ConditionID),
		)
	}
}

func (s *service) Advance(ctx context.Context, id uuid.UUID) (View, error) {
	return s.interviewing(ctx, id, func(c *Consultation) error {
		_, err := c.Session.Advance()
		return err
	})
}

// Settle finishes the reveal of the turn after expectedWatermark. It applies
// only while the watermark is unchanged, so a reveal loop racing a manual
// advance cannot settle the same turn twice. A pause that arrived during the
// reveal does not stop this turn from settling.
func (s *service) Settle(ctx context.Context, id uuid.UUID, expectedWatermark int) (View, bool, error) {
	var advanced bool
	v, err := s.interviewing(ctx, id, func(c *Consultation) error {
		if c.Session.Watermark() != expectedWatermark {
			return nil
		}
		ok, err := c.Session.FinishReveal()
		advanced = ok
		return err
	})
	return v, advanced, err
}

func (s *service) Pause(ctx context.Context, id uuid.UUID) (View, error) {
	return s.interviewing(ctx, id, func(c *Consultation) error {
		return c.Session.Pause()
	})
}

func (s *service) Resume(ctx context.Context, id uuid.UUID) (View, error) {
	return s.interviewing(ctx, id, func(c *Consultation) error {
		return c.Session.Resume()
	})
}

func (s *service) Reset(ctx context.Context, id uuid.UUID) (View, error) {
	return s.interviewing(ctx, id, func(c *Consultation) error {
		c.Session.Reset()
		return nil
	})
}

func (s *service) Skip(ctx context.Context, id uuid.UUID) (View, error) {
	return s.interviewing(ctx, id, func(c *Consultation) error {
		return c.Session.JumpToEnd()
	})
}

func (s *service) Jump(ctx context.Context, id uuid.UUID, index int) (View, error) {
	return s.interviewing(ctx, id, func(c *Consultation) error {
		return c.Session.JumpTo(index)
	})
}

func (s *service) Cursor(ctx context.Context, id uuid.UUID) (Cursor, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Cursor{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := requireStep(c, StepInterview); err != nil {
		return Cursor{}, err
	}
	if !c.Session.Started() {
		return Cursor{}, interview.ErrSessionNotStarted
	}
	turn, ok := c.Session.Pending()
	return Cursor{
		Watermark:  c.Session.Watermark(),
		State:      c.Session.State(),
		Pending:    turn,
		HasPending: ok,
	}, nil
}

func (s *service) Report(ctx context.Context, id uuid.UUID) (report.Report, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return report.Report{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.buildReport(c)
}

func (s *service) ExportMarkdown(ctx context.Context, id uuid.UUID) (string, error) {
	r, err := s.Report(ctx, id)
	if err != nil {
		return "", err
	}
	s.metrics.ReportsExported.WithLabelValues("markdown").Inc()
	return r.Markdown(), nil
}

func (s *service) ExportPDF(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	r, err := s.Report(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := s.reportSvc.PDF(r)
	if err != nil {
		return nil, "", err
	}
	s.metrics.ReportsExported.WithLabelValues("pdf").Inc()
	return data, fmt.Sprintf("report_%s.pdf", id), nil
}

func (s *service) SendReport(ctx context.Context, id uuid.UUID) (report.Delivery, error) {
	r, err := s.Report(ctx, id)
	if err != nil {
		return "", err
	}

	d, err := s.reportSvc.SendDoctorReport(ctx, r, id.String())
	switch {
	case errors.Is(err, report.ErrDeliveryDisabled):
		s.metrics.ReportDeliveries.WithLabelValues("disabled").Inc()
		return "", err
	case err != nil:
		s.metrics.ReportDeliveries.WithLabelValues("error").Inc()
		s.log.Error("report delivery failed", zap.String("consultation_id", id.String()), zap.Error(err))
		return "", err
	}
	s.metrics.ReportDeliveries.WithLabelValues(string(d)).Inc()
	return d, nil
}

func (s *service) buildReport(c *Consultation) (report.Report, error) {
	fs, err := c.Session.Facts()
	if err != nil {
		return report.Report{}, err
	}
	sc, err := c.Session.Script()
	if err != nil {
		return report.Report{}, err
	}

	h := report.Header{
		ConditionTitle: sc.Condition.Title,
		GeneratedAt:    s.now(),
	}
	if p, err := s.patients.Get(c.PatientID); err == nil {
		h.PatientName = p.Name
		h.PatientSummary = p.Summary()
	}
	return report.Build(h, fs, sc, c.Session.Complete()), nil
}

// view must be called with c.mu held.
func (s *service) view(c *Consultation) View {
	v := View{
		ID:         c.ID,
		Step:       c.Step,
		State:      c.Session.State(),
		Watermark:  c.Session.Watermark(),
		Transcript: []TurnView{},
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}

	if c.PatientID != "" {
		if p, err := s.patients.Get(c.PatientID); err == nil {
			v.Patient = &p
		}
	}
	if c.ConditionID != "" {
		if sc, err := s.catalog.Get(c.ConditionID); err == nil {
			v.Condition = &sc.Condition
			v.TotalTurns = len(sc.Turns)
		}
	}

	for i, t := range c.Session.Settled() {
		tv := TurnView{Index: i, Speaker: t.Speaker, Label: t.Speaker.Label(), Text: t.Text}
		if s.showTimestamps && i < len(c.SettledAt) {
			at := c.SettledAt[i]
			tv.SettledAt = &at
		}
		v.Transcript = append(v.Transcript, tv)
	}

	if c.Session.Started() {
		if r, err := s.buildReport(c); err == nil {
			v.Report = &r
		}
	}
	if c.Session.Complete() {
		v.Banner = CompletionBanner
	}
	return v
}
