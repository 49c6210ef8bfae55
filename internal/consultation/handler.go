package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"preconsult/internal/interview"
	"preconsult/internal/platform/metrics"
	"preconsult/internal/report"
	"preconsult/internal/roster"
	"preconsult/internal/script"
)

// PatientLister backs the patient picker.
type PatientLister interface {
	Filter(q roster.Query) []roster.Patient
	BaseConditions() []string
}

// ConditionLister backs the condition picker.
type ConditionLister interface {
	Conditions() []script.Condition
}

type Handler struct {
	svc        Service
	patients   PatientLister
	conditions ConditionLister
	pacing     interview.Pacing
	metrics    *metrics.Collector
	log        *zap.Logger
}

func NewHandler(svc Service, patients PatientLister, conditions ConditionLister, pacing interview.Pacing, m *metrics.Collector, log *zap.Logger) *Handler {
	return &Handler{
		svc:        svc,
		patients:   patients,
		conditions: conditions,
		pacing:     pacing,
		metrics:    m,
		log:        log,
	}
}

type APIResponse[T any] struct {
	Data T `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PatientsResponse struct {
	Patients       []roster.Patient `json:"patients"`
	BaseConditions []string         `json:"base_conditions"`
}

type SelectPatientRequest struct {
	PatientID string `json:"patient_id"`
}

type SelectConditionRequest struct {
	ConditionID string `json:"condition_id"`
}

type JumpRequest struct {
	Index *int `json:"index"`
}

type DeliveryResponse struct {
	Delivery report.Delivery `json:"delivery"`
}

// PendingEvent announces the turn about to be revealed.
type PendingEvent struct {
	Index      int            `json:"index"`
	Speaker    script.Speaker `json:"speaker"`
	DurationMS int64          `json:"duration_ms"`
}

// TypingEvent is a partial reveal of the pending turn.
type TypingEvent struct {
	Index   int            `json:"index"`
	Speaker script.Speaker `json:"speaker"`
	Text    string         `json:"text"`
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/patients", h.ListPatients)
	r.Get("/conditions", h.ListConditions)

	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", h.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)

			r.Put("/patient", h.SelectPatient)
			r.Put("/condition", h.SelectCondition)
			r.Delete("/selection", h.action(h.svc.ClearSelection))
			r.Post("/intro", h.action(h.svc.Intro))
			r.Post("/interview", h.action(h.svc.StartInterview))
			r.Post("/back", h.action(h.svc.Back))
			r.Post("/restart", h.action(h.svc.Restart))

			r.Post("/advance", h.action(h.svc.Advance))
			r.Post("/pause", h.action(h.svc.Pause))
			r.Post("/resume", h.action(h.svc.Resume))
			r.Post("/reset", h.action(h.svc.Reset))
			r.Post("/skip", h.action(h.svc.Skip))
			r.Post("/jump", h.Jump)
			r.Get("/stream", h.Stream)

			r.Get("/report.md", h.ReportMarkdown)
			r.Get("/report.pdf", h.ReportPDF)
			r.Post("/report/send", h.SendReport)
		})
	})
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patients := h.patients.Filter(roster.Query{
		Search:        q.Get("q"),
		Sex:           roster.Sex(q.Get("sex")),
		BaseCondition: q.Get("base"),
	})
	respondJSON(w, http.StatusOK, PatientsResponse{
		Patients:       patients,
		BaseConditions: h.patients.BaseConditions(),
	})
}

func (h *Handler) ListConditions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.conditions.Conditions())
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Create(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.action(h.svc.Get)(w, r)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// action adapts a service call that returns a view.
func (h *Handler) action(fn func(context.Context, uuid.UUID) (View, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		v, err := fn(r.Context(), id)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, v)
	}
}

func (h *Handler) SelectPatient(w http.ResponseWriter, r *http.Request) {
	var req SelectPatientRequest
	if !decode(w, r, &req) {
		return
	}
	h.action(func(ctx context.Context, id uuid.UUID) (View, error) {
		return h.svc.SelectPatient(ctx, id, req.PatientID)
	})(w, r)
}

func (h *Handler) SelectCondition(w http.ResponseWriter, r *http.Request) {
	var req SelectConditionRequest
	if !decode(w, r, &req) {
		return
	}
	h.action(func(ctx context.Context, id uuid.UUID) (View, error) {
		return h.svc.SelectCondition(ctx, id, req.ConditionID)
	})(w, r)
}

func (h *Handler) Jump(w http.ResponseWriter, r *http.Request) {
	var req JumpRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		respondError(w, http.StatusBadRequest, "index is required")
		return
	}
	h.action(func(ctx context.Context, id uuid.UUID) (View, error) {
		return h.svc.Jump(ctx, id, *req.Index)
	})(w, r)
}

func (h *Handler) ReportMarkdown(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	md, err := h.svc.ExportMarkdown(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.md"`, id))
	_, _ = w.Write([]byte(md))
}

func (h *Handler) ReportPDF(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	data, name, err := h.svc.ExportPDF(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	_, _ = w.Write(data)
}

func (h *Handler) SendReport(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.SendReport(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, DeliveryResponse{Delivery: d})
}

// Stream reveals the remaining turns as server-sent events. Each turn is
// announced with "pending", animated with "typing" frames and reported with
// "turn" once it settles. A final "state" follows when the session pauses or
// completes. Pausing lets the turn already being typed settle first.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if _, err := h.svc.Cursor(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	emit := func(event string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx := r.Context()
	if err := h.reveal(ctx, id, emit); err != nil && ctx.Err() == nil {
		h.log.Warn("reveal stream stopped", zap.String("consultation_id", id.String()), zap.Error(err))
		_ = emit("error", ErrorResponse{Error: err.Error()})
	}
}

func (h *Handler) reveal(ctx context.Context, id uuid.UUID, emit func(string, any) error) error {
	for {
		cur, err := h.svc.Cursor(ctx, id)
		if err != nil {
			return err
		}

		if !cur.HasPending || cur.State == interview.StatePaused {
			v, err := h.svc.Get(ctx, id)
			if err != nil {
				return err
			}
			return emit("state", v)
		}

		if !h.pacing.Animate {
			v, err := h.svc.Skip(ctx, id)
			if err != nil {
				return err
			}
			return emit("state", v)
		}

		turn := cur.Pending
		pending := PendingEvent{
			Index:      cur.Watermark + 1,
			Speaker:    turn.Speaker,
			DurationMS: h.pacing.RevealDuration(turn).Milliseconds(),
		}
		if err := emit("pending", pending); err != nil {
			return err
		}
		if !wait(ctx, h.pacing.ThinkDelay(turn.Speaker)) {
			return ctx.Err()
		}
		delay := h.pacing.CharDelay(turn.Speaker)
		for frame := range interview.Frames(turn.Text) {
			if err := emit("typing", TypingEvent{Index: cur.Watermark + 1, Speaker: turn.Speaker, Text: frame}); err != nil {
				return err
			}
			if !wait(ctx, delay) {
				return ctx.Err()
			}
		}

		v, advanced, err := h.svc.Settle(ctx, id, cur.Watermark)
		if err != nil {
			return err
		}
		if advanced {
			if err := emit("turn", v); err != nil {
				return err
			}
		}
		if !wait(ctx, h.pacing.SettlePause) {
			return ctx.Err()
		}
	}
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid consultation id")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[any]{Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConsultationNotFound),
		errors.Is(err, roster.ErrPatientNotFound):
		respondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, script.ErrUnknownCondition):
		respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, interview.ErrSessionNotStarted),
		errors.Is(err, ErrSelectionIncomplete),
		errors.Is(err, ErrWrongStep):
		respondError(w, http.StatusConflict, err.Error())

	case errors.Is(err, report.ErrDeliveryDisabled),
		errors.Is(err, report.ErrFontUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())

	default:
		h.log.Error("unhandled service error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
