package callreport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/callrelay/callrelay/internal/callreport/repository"
	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
	"github.com/callrelay/callrelay/internal/common/logging"
)

const generatedAtLayout = "2006-01-02 15:04:05"

// Report is the body of a successful summary response.
type Report struct {
	Summary     *repository.Summary `json:"summary"`
	GeneratedAt string              `json:"generated_at"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SummaryHandler serves call record summaries. Identical filters within the cache ttl share one
// computed summary.
type SummaryHandler struct {
	repo         repository.SummaryRepository
	cache        *cache.Cache
	cacheTTL     time.Duration
	queryTimeout time.Duration
	decoder      *schema.Decoder
	clock        clock.PassiveClock
	metrics      *Metrics
}

func NewSummaryHandler(
	repo repository.SummaryRepository,
	cacheTTL time.Duration,
	queryTimeout time.Duration,
	clock clock.PassiveClock,
	m *Metrics,
) *SummaryHandler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &SummaryHandler{
		repo:         repo,
		cache:        cache.New(cacheTTL, 2*cacheTTL),
		cacheTTL:     cacheTTL,
		queryTimeout: queryTimeout,
		decoder:      decoder,
		clock:        clock,
		metrics:      m,
	}
}

func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Status: "error", Message: "Method not allowed"})
		return
	}
	correlationId := "MONITOR-" + uuid.NewString()
	logger := log.WithField(logging.CorrelationId, correlationId)

	filter := &repository.Filter{}
	if err := h.decoder.Decode(filter, r.URL.Query()); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Message: err.Error()})
		return
	}
	if _, err := filter.Expressions(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Message: err.Error()})
		return
	}
	logger.Infof("Query received. Filters: Campaign=%s, Status=%s", filter.CampaignName, filter.CallStatus)

	report, err := h.report(r.Context(), filter)
	if err != nil {
		h.metrics.RecordDBError(commonmetrics.DBOperationRead)
		logging.WithStacktrace(logger, err).Error("Failed to generate summary")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Message: "Failed to generate summary"})
		return
	}
	logger.Info("Response generation complete")
	writeJSON(w, http.StatusOK, report)
}

func (h *SummaryHandler) report(ctx context.Context, filter *repository.Filter) (*Report, error) {
	key := filter.Key()
	if h.cacheTTL > 0 {
		if cached, ok := h.cache.Get(key); ok {
			h.metrics.cacheHits.Inc()
			return cached.(*Report), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.queryTimeout)
	defer cancel()
	start := h.clock.Now()
	summary, err := h.repo.GetSummary(ctx, filter)
	if err != nil {
		return nil, err
	}
	h.metrics.queryDuration.Observe(h.clock.Since(start).Seconds())

	report := &Report{Summary: summary, GeneratedAt: h.clock.Now().Format(generatedAtLayout)}
	if h.cacheTTL > 0 {
		h.cache.Set(key, report, h.cacheTTL)
	}
	return report, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
