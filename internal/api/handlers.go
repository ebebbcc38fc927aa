// Package api exposes farmlink over HTTP: device ingestion, reading history
// and the LED/message control channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jwulff/farmlink-go/internal/domain"
	"github.com/jwulff/farmlink-go/internal/metrics"
	"github.com/jwulff/farmlink-go/internal/telemetry"
)

// maxBodyBytes caps request bodies; device payloads are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies of every route.
type Handler struct {
	svc     *telemetry.Service
	control *domain.ControlState
	metrics *metrics.Metrics
	db      Pinger
	logger  *zap.Logger
}

// NewHandler creates the route handler. m and db may be nil.
func NewHandler(svc *telemetry.Service, control *domain.ControlState, m *metrics.Metrics, db Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		svc:     svc,
		control: control,
		metrics: m,
		db:      db,
		logger:  logger.Named("api"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Index handles GET /.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "farmlink telemetry server\n")
}

// SetLED handles POST /comando.
func (h *Handler) SetLED(w http.ResponseWriter, r *http.Request) {
	value := controlValue(r, "led")
	led := h.control.SetLED(value)
	if value != nil {
		h.logger.Info("led command set", zap.String("led", led))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "led": led})
}

// SetMessage handles POST /mensagem.
func (h *Handler) SetMessage(w http.ResponseWriter, r *http.Request) {
	value := controlValue(r, "msg")
	msg := h.control.SetMessage(value)
	if value != nil {
		h.logger.Info("message queued", zap.Int("length", len(msg)))
	}
	writeJSON(w, http.StatusOK, map[string]string{"mensagem": msg})
}

// Status handles GET /status. The pending message is cleared once returned.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.control.ReadStatus()
	if h.metrics != nil {
		h.metrics.StatusPolls.Inc()
		if st.Message != "" {
			h.metrics.MessagesDelivered.Inc()
		}
	}
	writeJSON(w, http.StatusOK, st)
}

// Ingest handles POST /api/esp32.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	in, err := telemetry.DecodeReading(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.svc.RecordRejected(metrics.ReasonValidation)
		resp := errorResponse{Error: err.Error()}
		var v *telemetry.ValidationError
		if errors.As(err, &v) {
			resp.Field = v.Field
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	if _, err := h.svc.Ingest(r.Context(), telemetry.TransportHTTP, in); err != nil {
		h.logger.Error("failed to ingest reading", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "dados salvos"})
}

// ListReadings handles GET /api/registros.
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list readings", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// controlValue extracts key from a JSON or form-encoded body. It returns nil
// when the key is absent, null, or the body cannot be parsed. Non-string JSON
// values are kept as their JSON text.
func controlValue(r *http.Request, key string) *string {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil
		}
		if vals, ok := r.PostForm[key]; ok && len(vals) > 0 {
			return &vals[0]
		}
		return nil
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil
	}
	raw, ok := body[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	text := string(raw)
	return &text
}
