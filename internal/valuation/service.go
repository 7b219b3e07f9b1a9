// Package valuation provides the HTTP handlers that host the valuation
// engine: NPV, IRR and rate-sensitivity requests, CSV schedule import, and
// the valuation history.
//
// All monetary values use money.Money, never float64.
package valuation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/valuation-engine/internal/engine"
	"github.com/atmx/valuation-engine/internal/limits"
	"github.com/atmx/valuation-engine/internal/metrics"
	"github.com/atmx/valuation-engine/internal/model"
	"github.com/atmx/valuation-engine/internal/schedule"
	"github.com/atmx/valuation-engine/internal/store"
)

const (
	// DefaultMaxBodyBytes caps request bodies.
	DefaultMaxBodyBytes int64 = 4 << 20

	// MaxSensitivityRates caps the number of rates in one sweep.
	MaxSensitivityRates = 256
)

// ErrBadRequest is returned for request parameters the engine never sees.
var ErrBadRequest = errors.New("bad request")

// Service handles valuation requests. The engine is stateless, so no
// locking is needed around it; the store and hub synchronize themselves.
type Service struct {
	store        store.Store
	limiter      *limits.ScheduleLimiter
	hub          *WSHub // optional WebSocket hub for completion broadcasts
	maxBodyBytes int64
}

// NewService creates a new valuation service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *limits.ScheduleLimiter, hub *WSHub) *Service {
	return &Service{
		store:        st,
		limiter:      limiter,
		hub:          hub,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// SetMaxBodyBytes overrides the request body cap. Non-positive values are
// ignored.
func (s *Service) SetMaxBodyBytes(n int64) {
	if n > 0 {
		s.maxBodyBytes = n
	}
}

// Routes mounts the service handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/npv", s.NPV)
	r.Post("/npv/csv", s.NPVFromCSV)
	r.Post("/irr", s.IRR)
	r.Post("/sensitivity", s.Sensitivity)
	r.Get("/valuations", s.ListValuations)
	r.Get("/valuations/{valuationID}", s.GetValuation)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request/Response types ---

// IRRResponse is the JSON body returned from POST /irr.
type IRRResponse struct {
	IRRBps int32 `json:"irrBps"`
}

// SensitivityRequest is the JSON body for POST /sensitivity.
type SensitivityRequest struct {
	Input    json.RawMessage `json:"input"`
	RatesBps []int32         `json:"ratesBps"`
}

// SensitivityResponse is the JSON body returned from POST /sensitivity.
type SensitivityResponse struct {
	Points []model.RatePoint `json:"points"`
}

// --- HTTP Handlers ---

// NPV handles POST /api/v1/npv
// Body is a boundary input document; the response is a boundary output.
func (s *Service) NPV(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r, model.OperationNPV)
	if !ok {
		return
	}
	s.runNPV(w, r, in)
}

// NPVFromCSV handles POST /api/v1/npv/csv?discountRateBps=&compounding=&asOf=
// Body is a CSV schedule with date and amount columns.
func (s *Service) NPVFromCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rate, err := strconv.ParseInt(q.Get("discountRateBps"), 10, 32)
	if err != nil {
		s.reject(w, model.OperationNPV, fmt.Errorf("%w: discountRateBps must be an int32", ErrBadRequest))
		return
	}
	compounding, err := model.ParseCompounding(q.Get("compounding"))
	if err != nil {
		s.reject(w, model.OperationNPV, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	asOf, err := schedule.ParseDate(q.Get("asOf"))
	if err != nil {
		s.reject(w, model.OperationNPV, fmt.Errorf("%w: asOf: %v", ErrBadRequest, err))
		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		s.reject(w, model.OperationNPV, err)
		return
	}
	cashflows, err := schedule.ParseCSV(bytes.NewReader(body))
	if err != nil {
		s.reject(w, model.OperationNPV, err)
		return
	}

	in := model.Input{
		Cashflows:       cashflows,
		DiscountRateBps: int32(rate),
		Compounding:     compounding,
		AsOf:            asOf,
	}
	if err := s.checkLimits(in); err != nil {
		s.reject(w, model.OperationNPV, err)
		return
	}
	s.runNPV(w, r, in)
}

func (s *Service) runNPV(w http.ResponseWriter, r *http.Request, in model.Input) {
	start := time.Now()
	out, err := engine.NPV(in)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveValuation(model.OperationNPV, metrics.OutcomeFailed, len(in.Cashflows), elapsed)
		s.fail(w, model.OperationNPV, err)
		return
	}
	metrics.ObserveValuation(model.OperationNPV, metrics.OutcomeOK, len(in.Cashflows), elapsed)
	if out.IRRBps == nil {
		metrics.IRRNotFound.Inc()
	}

	v := s.record(r, model.OperationNPV, in, out, nil)
	writeJSON(w, v.ID, out)
}

// IRR handles POST /api/v1/irr
// Responds 422 with "IRR not found" when no root lies in the search domain.
func (s *Service) IRR(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r, model.OperationIRR)
	if !ok {
		return
	}

	start := time.Now()
	bps, err := engine.IRR(in)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, engine.ErrIRRNotFound) {
			metrics.IRRNotFound.Inc()
		}
		metrics.ObserveValuation(model.OperationIRR, metrics.OutcomeFailed, len(in.Cashflows), elapsed)
		s.fail(w, model.OperationIRR, err)
		return
	}
	metrics.ObserveValuation(model.OperationIRR, metrics.OutcomeOK, len(in.Cashflows), elapsed)

	v := s.record(r, model.OperationIRR, in, model.Output{IRRBps: &bps}, nil)
	writeJSON(w, v.ID, IRRResponse{IRRBps: bps})
}

// Sensitivity handles POST /api/v1/sensitivity
// Values one schedule at each requested rate.
func (s *Service) Sensitivity(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.reject(w, model.OperationSensitivity, err)
		return
	}

	var req SensitivityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(w, model.OperationSensitivity, fmt.Errorf("%w: %v", engine.ErrSerialization, err))
		return
	}
	if len(req.RatesBps) == 0 || len(req.RatesBps) > MaxSensitivityRates {
		s.reject(w, model.OperationSensitivity,
			fmt.Errorf("%w: ratesBps must hold 1 to %d rates", ErrBadRequest, MaxSensitivityRates))
		return
	}
	in, err := engine.DecodeInput(req.Input)
	if err != nil {
		s.reject(w, model.OperationSensitivity, err)
		return
	}
	if err := s.checkLimits(in); err != nil {
		s.reject(w, model.OperationSensitivity, err)
		return
	}

	start := time.Now()
	points, err := engine.Sensitivity(in, req.RatesBps)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveValuation(model.OperationSensitivity, metrics.OutcomeFailed, len(in.Cashflows), elapsed)
		s.fail(w, model.OperationSensitivity, err)
		return
	}
	metrics.ObserveValuation(model.OperationSensitivity, metrics.OutcomeOK, len(in.Cashflows), elapsed)

	v := s.record(r, model.OperationSensitivity, in, model.Output{}, points)
	writeJSON(w, v.ID, SensitivityResponse{Points: points})
}

// ListValuations handles GET /api/v1/valuations?limit=N
// Returns the most recent valuations, newest first.
func (s *Service) ListValuations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	valuations, err := s.store.ListValuations(r.Context(), limit)
	if err != nil {
		slog.Error("list valuations failed", "err", err)
		writeError(w, "failed to list valuations", http.StatusInternalServerError)
		return
	}
	if valuations == nil {
		valuations = []model.Valuation{}
	}

	writeJSON(w, "", valuations)
}

// GetValuation handles GET /api/v1/valuations/{valuationID}
func (s *Service) GetValuation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "valuationID")

	v, err := s.store.GetValuation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "valuation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get valuation failed", "id", id, "err", err)
		writeError(w, "failed to load valuation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, "", v)
}

// --- Helpers ---

// decodeInput reads and validates a boundary input document. On failure it
// has already written the response.
func (s *Service) decodeInput(w http.ResponseWriter, r *http.Request, operation string) (model.Input, bool) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.reject(w, operation, err)
		return model.Input{}, false
	}
	in, err := engine.DecodeInput(body)
	if err != nil {
		s.reject(w, operation, err)
		return model.Input{}, false
	}
	if err := s.checkLimits(in); err != nil {
		s.reject(w, operation, err)
		return model.Input{}, false
	}
	return in, true
}

func (s *Service) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", errBodyTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return body, nil
}

var errBodyTooLarge = errors.New("request body too large")

func (s *Service) checkLimits(in model.Input) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Check(in); err != nil {
		metrics.LimitRejections.Inc()
		return err
	}
	return nil
}

// record stores a completed valuation and broadcasts it. A store failure is
// logged but does not fail the request: the result is already computed.
func (s *Service) record(r *http.Request, operation string, in model.Input, out model.Output, points []model.RatePoint) *model.Valuation {
	v := &model.Valuation{
		ID:            uuid.New().String(),
		Operation:     operation,
		Input:         in.Normalized(),
		Output:        out,
		Points:        points,
		CashflowCount: len(in.Cashflows),
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.CreateValuation(r.Context(), v); err != nil {
		slog.Error("failed to record valuation", "id", v.ID, "operation", operation, "err", err)
		v.ID = ""
	}

	attrs := []any{
		"id", v.ID,
		"operation", operation,
		"cashflows", v.CashflowCount,
		"npv_micro", out.NPV.String(),
	}
	if out.IRRBps != nil {
		attrs = append(attrs, "irr_bps", *out.IRRBps)
	}
	slog.Info("valuation completed", attrs...)

	if s.hub != nil && v.ID != "" {
		msg := WSMessage{
			Type:        "valuation_completed",
			ValuationID: v.ID,
			Operation:   operation,
			Cashflows:   v.CashflowCount,
			IRRBps:      out.IRRBps,
		}
		if operation == model.OperationNPV {
			msg.NPVMicro = out.NPV.String()
		}
		s.hub.Broadcast(msg)
	}
	return v
}

// reject writes a response for a request refused before the engine ran.
func (s *Service) reject(w http.ResponseWriter, operation string, err error) {
	metrics.ValuationsTotal.WithLabelValues(operation, metrics.OutcomeRejected).Inc()
	slog.Warn("valuation rejected", "operation", operation, "err", err)
	writeError(w, err.Error(), statusFor(err))
}

// fail writes a response for an engine failure.
func (s *Service) fail(w http.ResponseWriter, operation string, err error) {
	slog.Warn("valuation failed", "operation", operation, "err", err)
	writeError(w, err.Error(), statusFor(err))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge),
		errors.Is(err, limits.ErrTooManyCashflows),
		errors.Is(err, limits.ErrHorizonExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrSerialization),
		errors.Is(err, engine.ErrInvalidMoney),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, schedule.ErrMissingColumn),
		errors.Is(err, schedule.ErrInvalidRow):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrOverflow),
		errors.Is(err, engine.ErrIRRNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a 200 response. A non-empty id is echoed in the
// X-Valuation-ID header.
func writeJSON(w http.ResponseWriter, id string, body any) {
	w.Header().Set("Content-Type", "application/json")
	if id != "" {
		w.Header().Set("X-Valuation-ID", id)
	}
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
