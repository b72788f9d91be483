package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arborvale/valicore/pkg/core"
	"github.com/arborvale/valicore/pkg/logger"
	"github.com/arborvale/valicore/pkg/valcore"
)

// api wires the validation core into an HTTP surface: POST /validate,
// GET /healthz, GET /validators, and (when metrics are enabled) GET /metrics.
type api struct {
	engine    *core.Core
	logger    *slog.Logger
	validate  *validator.Validate
	startedAt time.Time
}

func newAPI(engine *core.Core, log *slog.Logger) *api {
	return &api{
		engine:    engine,
		logger:    log,
		validate:  validator.New(),
		startedAt: time.Now(),
	}
}

func (a *api) router(metricsEnabled bool, metricsPath string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/validate", a.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/validators", a.handleValidators).Methods(http.MethodGet)
	if metricsEnabled {
		r.Handle(metricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}
	return r
}

func (a *api) handleValidate(w http.ResponseWriter, r *http.Request) {
	var dto validateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}
	if err := a.validate.Struct(dto); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	requestID := logger.GetRequestID(r.Context())
	if dto.RequestID != "" {
		requestID = dto.RequestID
	}
	if requestID == "" {
		requestID = logger.GenerateRequestID()
	}

	req := dto.toRequest(requestContext{requestID: requestID})

	result, err := a.engine.Validate(r.Context(), req)
	if err != nil {
		status, code := statusForError(err)
		writeError(w, status, err.Error(), code)
		return
	}

	status := statusForResult(result)
	writeJSON(w, status, newValidateResponseDTO(result))
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(a.startedAt).String(),
	})
}

func (a *api) handleValidators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"languages": a.engine.ListValidators(),
	})
}

// statusForResult maps a completed ValidationResult to an HTTP status: a
// clean or merely-invalid result is still a successful request (200), while
// a failed run (the pipeline couldn't complete it at all) surfaces as an
// error status derived from its recorded issue code.
func statusForResult(r *valcore.ValidationResult) int {
	if r.State != valcore.StateFailed {
		return http.StatusOK
	}
	if len(r.Issues) == 0 {
		return http.StatusInternalServerError
	}
	return statusForErrorKind(valcore.ErrorKind(r.Issues[0].Code))
}

// statusForError maps an error thrown directly by Core.Validate (input-shape
// errors and tagged valcore.Errors alike) to an HTTP status and error code.
func statusForError(err error) (int, string) {
	kind, ok := valcore.KindOf(err)
	if !ok {
		return http.StatusBadRequest, ""
	}
	return statusForErrorKind(kind), string(kind)
}

func statusForErrorKind(kind valcore.ErrorKind) int {
	switch kind {
	case valcore.ErrKindUnsupportedLanguage:
		return http.StatusUnprocessableEntity
	case valcore.ErrKindQueueFull, valcore.ErrKindOverloaded, valcore.ErrKindThrottled:
		return http.StatusServiceUnavailable
	case valcore.ErrKindTimeout, valcore.ErrKindCancelled:
		return http.StatusGatewayTimeout
	case valcore.ErrKindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponseDTO{Error: message, Code: code})
}
