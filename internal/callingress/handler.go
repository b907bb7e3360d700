package callingress

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/common/health"
	"github.com/callrelay/callrelay/internal/common/logging"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	unknownCorrelationId = "unknown"
)

// Response is the body of every answer from the receive api.
type Response struct {
	Status           string  `json:"status"`
	Message          string  `json:"message"`
	CorrelationId    string  `json:"correlation_id"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// ReceiveHandler validates call records posted by clients and publishes them to the call records
// topic, keyed by correlation id.
type ReceiveHandler struct {
	producer        pulsar.Producer
	maxPayloadBytes int64
	clock           clock.PassiveClock
	metrics         *Metrics
}

func NewReceiveHandler(producer pulsar.Producer, maxPayloadBytes int64, clock clock.PassiveClock, m *Metrics) *ReceiveHandler {
	return &ReceiveHandler{
		producer:        producer,
		maxPayloadBytes: maxPayloadBytes,
		clock:           clock,
		metrics:         m,
	}
}

func (h *ReceiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.metrics.recordRequest(outcomeRejected)
		writeResponse(w, http.StatusMethodNotAllowed, Response{
			Status:        statusError,
			Message:       "Method not allowed",
			CorrelationId: unknownCorrelationId,
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.metrics.recordRequest(outcomeRejected)
		writeResponse(w, status, Response{
			Status:        statusError,
			Message:       "Failed to read request body: " + err.Error(),
			CorrelationId: unknownCorrelationId,
		})
		return
	}

	record, err := codec.Decode(body)
	if err != nil {
		log.WithField(logging.CorrelationId, logging.SystemCorrelationId).Infof("Validation error: %v", err)
		h.metrics.recordRequest(outcomeInvalid)
		writeResponse(w, http.StatusBadRequest, Response{
			Status:        statusError,
			Message:       "Validation failed: " + err.Error(),
			CorrelationId: unknownCorrelationId,
		})
		return
	}
	logger := log.WithField(logging.CorrelationId, record.ClientCorrelationId)

	// Republished in canonical form so that the ingester sees one timestamp layout.
	payload, err := codec.EncodeRecord(record)
	if err != nil {
		logging.WithStacktrace(logger, err).Error("Failed to encode record")
		h.metrics.recordRequest(outcomeFailed)
		writeResponse(w, http.StatusInternalServerError, Response{
			Status:        statusError,
			Message:       "Internal Error",
			CorrelationId: record.ClientCorrelationId,
		})
		return
	}

	publishStart := h.clock.Now()
	_, err = h.producer.Send(r.Context(), &pulsar.ProducerMessage{
		Payload: payload,
		Key:     record.ClientCorrelationId,
		Properties: map[string]string{
			codec.PropertyForwardingTimeMs: strconv.FormatFloat(millisSince(h.clock, start), 'f', 3, 64),
		},
	})
	h.metrics.observePublish(h.clock.Since(publishStart).Seconds())
	if err != nil {
		logging.WithStacktrace(logger, err).Error("Data forwarding failed")
		h.metrics.recordRequest(outcomeFailed)
		writeResponse(w, http.StatusServiceUnavailable, Response{
			Status:        statusError,
			Message:       "Internal Queue Error",
			CorrelationId: record.ClientCorrelationId,
		})
		return
	}

	elapsed := millisSince(h.clock, start)
	logger.Debugf("Record queued in %.2fms", elapsed)
	h.metrics.recordRequest(outcomeQueued)
	writeResponse(w, http.StatusOK, Response{
		Status:           statusSuccess,
		Message:          "Data queued for processing",
		CorrelationId:    record.ClientCorrelationId,
		ProcessingTimeMs: elapsed,
	})
}

// NewMux routes the receive api and the health check.
func NewMux(receive http.Handler, checker health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/receive", receive)
	health.SetupHttpMux(mux, checker)
	return mux
}

func writeResponse(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

func millisSince(c clock.PassiveClock, t time.Time) float64 {
	return float64(c.Since(t).Microseconds()) / 1000
}
