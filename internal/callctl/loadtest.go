package callctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/renstrom/shortuuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/model"
)

const receivePath = "/api/receive"

type LoadTestParams struct {
	Count       int
	Concurrency int
	Campaigns   []string
}

type LoadTestResult struct {
	Succeeded int64
	Failed    int64
	Duration  time.Duration
}

// LoadTest posts Count random call records to the ingress from Concurrency workers.
func (a *App) LoadTest(ctx context.Context, params LoadTestParams) (*LoadTestResult, error) {
	if params.Count <= 0 || params.Concurrency <= 0 {
		return nil, errors.Errorf("count and concurrency must be positive, got %d and %d", params.Count, params.Concurrency)
	}
	if len(params.Campaigns) == 0 {
		params.Campaigns = []string{"Sales_Team"}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	payloads := make([][]byte, params.Count)
	for i := range payloads {
		payload, err := codec.EncodeRecord(randomRecord(rng, params.Campaigns, time.Now()))
		if err != nil {
			return nil, err
		}
		payloads[i] = payload
	}

	var succeeded, failed int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(params.Concurrency)
	for _, payload := range payloads {
		payload := payload
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := a.post(gctx, payload); err != nil {
				atomic.AddInt64(&failed, 1)
				log.WithError(err).Debug("Load test request failed")
				return nil
			}
			atomic.AddInt64(&succeeded, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result := &LoadTestResult{Succeeded: succeeded, Failed: failed, Duration: time.Since(start)}
	fmt.Fprintf(a.Out, "Sent %d records in %s: %d succeeded, %d failed\n",
		params.Count, result.Duration.Round(time.Millisecond), result.Succeeded, result.Failed)
	return result, ctx.Err()
}

// post sends one payload to the ingress. Anything but a 200 is an error.
func (a *App) post(ctx context.Context, payload []byte) error {
	url := strings.TrimSuffix(a.Params.IngressUrl, "/") + receivePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.HttpClient.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("ingress returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

var (
	callStatuses = model.CallStatuses
	callTypes    = model.CallTypes
)

func randomRecord(rng *rand.Rand, campaigns []string, now time.Time) *model.EventRecord {
	var dtmf *int
	if v := rng.Intn(3); v < 2 {
		dtmf = &v
	}
	campaign := campaigns[rng.Intn(len(campaigns))]
	return &model.EventRecord{
		OverallCallStatus:    callStatuses[rng.Intn(len(callStatuses))],
		CustomerName:         fmt.Sprintf("User_%d", rng.Intn(1000)+1),
		ClientCorrelationId:  uuid.NewString(),
		CallType:             callTypes[rng.Intn(len(callTypes))],
		ConversationDuration: float64(rng.Intn(29000)+1000) / 100,
		OverallCallDuration:  "00:05:00",
		CampaignId:           "CAMP_" + strings.ToUpper(campaign[:1]),
		CampaignName:         campaign,
		CallerId:             "+19876543210",
		DtmfCapture:          dtmf,
		Participants: []model.Participant{{
			Address:  "Agent_007",
			Type:     "AGENT",
			Status:   "connected",
			Duration: 120.5,
		}},
		Timestamp: now.UTC().Truncate(time.Second),
		SessionId: "SESS_" + shortuuid.New(),
	}
}
