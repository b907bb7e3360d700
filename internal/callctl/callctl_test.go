package callctl

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/deadletter"
	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/callingester/store"
	"github.com/callrelay/callrelay/internal/callreport/repository"
)

// fakeIngress decodes every posted record and rejects those whose correlation id is in reject.
type fakeIngress struct {
	mu       sync.Mutex
	received []*model.EventRecord
	reject   map[string]bool
}

func (f *fakeIngress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	record, err := codec.Decode(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[record.ClientCorrelationId] {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	f.received = append(f.received, record)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeIngress) Received() []*model.EventRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.EventRecord(nil), f.received...)
}

func newTestApp(ingressUrl string) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	app := New()
	app.Out = out
	app.Params.IngressUrl = ingressUrl
	return app, out
}

func TestLoadTest(t *testing.T) {
	ingress := &fakeIngress{}
	server := httptest.NewServer(ingress)
	defer server.Close()
	app, out := newTestApp(server.URL + "/")

	result, err := app.LoadTest(context.Background(), LoadTestParams{Count: 20, Concurrency: 4, Campaigns: []string{"Sales", "Support"}})
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.Succeeded)
	assert.Equal(t, int64(0), result.Failed)
	assert.Len(t, ingress.Received(), 20)
	for _, r := range ingress.Received() {
		assert.Contains(t, []string{"Sales", "Support"}, r.CampaignName)
	}
	assert.Contains(t, out.String(), "20 succeeded, 0 failed")
}

func TestLoadTest_CountsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	app, _ := newTestApp(server.URL)

	result, err := app.LoadTest(context.Background(), LoadTestParams{Count: 3, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Succeeded)
	assert.Equal(t, int64(3), result.Failed)
}

func TestLoadTest_InvalidParams(t *testing.T) {
	app, _ := newTestApp("http://localhost")
	_, err := app.LoadTest(context.Background(), LoadTestParams{Count: 0, Concurrency: 1})
	assert.Error(t, err)
}

func TestRandomRecord_IsValid(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		payload, err := codec.EncodeRecord(randomRecord(rng, []string{"Sales_Team"}, time.Now()))
		require.NoError(t, err)
		_, err = codec.Decode(payload)
		require.NoError(t, err)
	}
}

func deadLetterFixture(t *testing.T, ids ...string) (*miniredis.Miniredis, *deadletter.RedisStore) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	s := deadletter.NewRedisStore(client, "call-records-deadletter", 0)

	var records []*model.BufferedRecord
	for _, id := range ids {
		records = append(records, &model.BufferedRecord{Record: &model.EventRecord{
			OverallCallStatus:   model.CallStatusMissed,
			ClientCorrelationId: id,
			CallType:            model.CallTypeOutbound,
			OverallCallDuration: "00:00:00",
			Participants:        []model.Participant{},
			Timestamp:           time.Date(2023, 4, 1, 10, 15, 0, 0, time.UTC),
		}})
	}
	cause := &store.StorageError{BatchSize: len(records), Code: "23514"}
	require.NoError(t, s.Add(records, cause, time.Date(2023, 4, 1, 10, 16, 0, 0, time.UTC)))
	return server, s
}

func TestDeadLetterList(t *testing.T) {
	server, _ := deadLetterFixture(t, "a", "b")
	app, out := newTestApp("")
	app.Params.Redis = redis.UniversalOptions{Addrs: []string{server.Addr()}}
	app.Params.DeadLetterStream = "call-records-deadletter"

	require.NoError(t, app.DeadLetterList(10))
	assert.Contains(t, out.String(), "23514")
	assert.Contains(t, out.String(), "2023-04-01 10:16:00")
	assert.Contains(t, out.String(), "2 of 2 dead-lettered records shown")
}

func TestDeadLetterReplay(t *testing.T) {
	server, s := deadLetterFixture(t, "a", "b", "c")
	ingress := &fakeIngress{reject: map[string]bool{"b": true}}
	ingressServer := httptest.NewServer(ingress)
	defer ingressServer.Close()

	app, _ := newTestApp(ingressServer.URL)
	app.Params.Redis = redis.UniversalOptions{Addrs: []string{server.Addr()}}
	app.Params.DeadLetterStream = "call-records-deadletter"

	replayed, err := app.DeadLetterReplay(context.Background(), 10)
	assert.Error(t, err)
	assert.Equal(t, 1, replayed)
	require.Len(t, ingress.Received(), 1)
	assert.Equal(t, "a", ingress.Received()[0].ClientCorrelationId)

	remaining, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}

func TestDeadLetter_NoStream(t *testing.T) {
	app, _ := newTestApp("")
	assert.Error(t, app.DeadLetterList(10))
}

func TestPrintSummary(t *testing.T) {
	one := int64(1)
	out := &bytes.Buffer{}
	printSummary(out, &repository.Summary{
		TotalCalls: 3,
		ByCampaign: []repository.CampaignBreakdown{{CampaignName: "Sales", StatusBreakdown: repository.StatusBreakdown{Total: 3, Answered: 3}}},
		ByDtmf: []repository.DtmfBreakdown{
			{StatusBreakdown: repository.StatusBreakdown{Total: 1, Answered: 1}},
			{DtmfValue: &one, StatusBreakdown: repository.StatusBreakdown{Total: 2, Answered: 2}},
		},
		ByCallStatus: []repository.StatusCount{{Status: "Answered", Count: 3, Percentage: 100}},
		ByCallType:   []repository.TypeCount{{Type: "INBOUND", Count: 3}},
		Performance:  repository.PerformanceMetrics{AvgProcessingTimeMs: 12.5, AvgStorageTimeMs: 1},
	})
	s := out.String()
	assert.Contains(t, s, "Total calls:")
	assert.Contains(t, s, "12.50")
	assert.Contains(t, s, "Sales")
	assert.Contains(t, s, "null")
	assert.Contains(t, s, "100.00")
	assert.Contains(t, s, "INBOUND")
}
