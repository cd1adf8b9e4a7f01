// Package httpapi is the C11 HTTP surface: a chi router exposing the two
// routes spec.md's §4.11 names, GET /health and GET /metrics, plus a
// POST /errors route that hands a framework-agnostic error report to the
// C9 Reporter. It is not a general-purpose web framework, just the
// response-shaping routes qerrors itself needs.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/qerrors/qerrors/errors"
	"github.com/qerrors/qerrors/metrics"
	mw "github.com/qerrors/qerrors/middleware"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("json")
	})
	return v
}

// QueueStats is the subset of analysisqueue.Queue health reporting needs.
type QueueStats struct {
	Length   int
	Capacity int
}

// HealthSource supplies the live values GET /health reports. Engine
// implements this by delegating to its queue, circuit breaker, and memory
// gate; tests can supply a fake.
type HealthSource interface {
	QueueStats() QueueStats
	CircuitState() string
	MemoryHeapPercent() float64
}

// errorReportRequest is the POST /errors wire shape: a name/message pair
// plus optional free-form context, mirroring what a caller without direct
// access to the Reporter.Report Go API would submit over HTTP. Validated
// with go-playground/validator struct tags per SPEC_FULL.md §4.12.
type errorReportRequest struct {
	Name     string                 `json:"name"`
	Message  string                 `json:"message" validate:"required"`
	Severity string                 `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Stack    []string               `json:"stack,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// API wires the C11 routes onto a chi.Router.
type API struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	reporter  *mw.Reporter
	health    HealthSource
	startedAt time.Time
}

// New builds an API. Any dependency may be nil; routes degrade gracefully
// (e.g. GET /health reports "healthy" with zeroed fields if health is nil).
func New(logger *zap.Logger, m *metrics.Metrics, reporter *mw.Reporter, health HealthSource) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		logger:    logger,
		metrics:   m,
		reporter:  reporter,
		health:    health,
		startedAt: time.Now(),
	}
}

// Routes mounts GET /health, GET /metrics, and POST /errors onto r.
func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Get("/metrics", a.handleMetrics)
	r.Post("/errors", a.handleReportError)
}

// Router builds a standalone chi.Router carrying just the C11 routes, for
// callers that don't already have a router to mount onto.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	UptimeMs int64  `json:"uptimeMs"`
	Queue    struct {
		Length   int `json:"length"`
		Capacity int `json:"capacity"`
	} `json:"queue"`
	Circuit struct {
		State string `json:"state"`
	} `json:"circuit"`
	Memory struct {
		HeapUsedPercent float64 `json:"heapUsedPercent"`
	} `json:"memory"`
}

const memoryCriticalFloor = 90

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}
	resp.UptimeMs = time.Since(a.startedAt).Milliseconds()

	if a.health != nil {
		qs := a.health.QueueStats()
		resp.Queue.Length = qs.Length
		resp.Queue.Capacity = qs.Capacity
		resp.Circuit.State = a.health.CircuitState()
		resp.Memory.HeapUsedPercent = a.health.MemoryHeapPercent()

		if resp.Memory.HeapUsedPercent >= memoryCriticalFloor || resp.Circuit.State == "open" {
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error("failed to encode health response", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.metrics == nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics.Snapshot{})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.metrics.Snapshot()); err != nil {
		a.logger.Error("failed to encode metrics snapshot", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (a *API) handleReportError(w http.ResponseWriter, r *http.Request) {
	if a.reporter == nil {
		http.Error(w, "error reporting not configured", http.StatusServiceUnavailable)
		return
	}

	var req errorReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		errors.Respond(w, r, errors.NewValidationError("", "invalid error report body", nil))
		return
	}

	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			errors.Respond(w, r, errors.NewValidationError("", "request validation failed", nil))
			return
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, formatValidationError(fe))
		}
		errors.Respond(w, r, errors.NewValidationError("", "request validation failed", map[string]interface{}{
			"validation_errors": msgs,
		}))
		return
	}

	name := req.Name
	if name == "" {
		name = "Error"
	}

	a.reporter.Report(&reportedError{name: name, message: req.Message, stack: req.Stack, severity: errors.Severity(req.Severity)}, "", req.Context, w, r)
}

// formatValidationError converts a validator.FieldError into the
// human-readable string surfaced in a ValidationError's details.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", fe.Field(), fe.Tag())
	}
}

// reportedError adapts a POST /errors body into an error value so it can
// flow through Reporter.Report like any other captured error.
type reportedError struct {
	name     string
	message  string
	stack    []string
	severity errors.Severity
}

func (e *reportedError) Error() string { return e.name + ": " + e.message }

// ReportName, ReportSeverity, and ReportStack let middleware.Reporter.Report
// honour the caller-declared name/severity/stack instead of synthesising
// them from this handler's own capture point.
func (e *reportedError) ReportName() string             { return e.name }
func (e *reportedError) ReportSeverity() errors.Severity { return e.severity }
func (e *reportedError) ReportStack() []string           { return e.stack }
