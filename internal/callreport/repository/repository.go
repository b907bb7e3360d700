package repository

import (
	"context"
	"database/sql"
	"math"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"

	"github.com/callrelay/callrelay/internal/callingester/model"
)

var (
	callRecordsTable = goqu.T("call_records")

	colCampaignName = goqu.C("campaign_name")
	colDtmf         = goqu.C("dtmf_capture")
	colStatus       = goqu.C("overall_call_status")
	colCallType     = goqu.C("call_type")
	colTimestamp    = goqu.C("call_timestamp")
	colProcessing   = goqu.C("processing_time_ms")
	colStorage      = goqu.C("storage_time_ms")
)

type StatusBreakdown struct {
	Total     int64 `json:"total" db:"total"`
	Answered  int64 `json:"answered" db:"answered"`
	Missed    int64 `json:"missed" db:"missed"`
	Connected int64 `json:"connected" db:"connected"`
}

type CampaignBreakdown struct {
	CampaignName string `json:"campaign_name" db:"campaign_name"`
	StatusBreakdown
}

type DtmfBreakdown struct {
	// Nil for records without a DTMF capture
	DtmfValue *int64 `json:"dtmf_value" db:"dtmf_value"`
	StatusBreakdown
}

type StatusCount struct {
	Status     string  `json:"status" db:"status"`
	Count      int64   `json:"count" db:"count"`
	Percentage float64 `json:"percentage" db:"-"`
}

type TypeCount struct {
	Type  string `json:"type" db:"type"`
	Count int64  `json:"count" db:"count"`
}

type PerformanceMetrics struct {
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	AvgStorageTimeMs    float64 `json:"avg_storage_time_ms"`
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
}

// Summary aggregates the call records matching one filter.
type Summary struct {
	TotalCalls   int64               `json:"total_calls"`
	ByCampaign   []CampaignBreakdown `json:"by_campaign"`
	ByDtmf       []DtmfBreakdown     `json:"by_dtmf"`
	ByCallStatus []StatusCount       `json:"by_call_status"`
	ByCallType   []TypeCount         `json:"by_call_type"`
	Performance  PerformanceMetrics  `json:"performance_metrics"`
}

type SummaryRepository interface {
	GetSummary(ctx context.Context, filter *Filter) (*Summary, error)
}

type SqlSummaryRepository struct {
	goquDb *goqu.Database
}

func NewSqlSummaryRepository(db *sql.DB) *SqlSummaryRepository {
	return &SqlSummaryRepository{goquDb: goqu.New("postgres", db)}
}

// GetSummary runs every aggregate in one read-only repeatable read transaction, so the
// breakdowns all describe the same snapshot.
func (r *SqlSummaryRepository) GetSummary(ctx context.Context, filter *Filter) (*Summary, error) {
	where, err := filter.Expressions()
	if err != nil {
		return nil, err
	}
	tx, err := r.goquDb.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() {
		// Read only, so there is nothing to lose by rolling back after a commit.
		_ = tx.Rollback()
	}()

	summary := &Summary{
		ByCampaign:   []CampaignBreakdown{},
		ByDtmf:       []DtmfBreakdown{},
		ByCallStatus: []StatusCount{},
		ByCallType:   []TypeCount{},
	}
	from := func() *goqu.SelectDataset {
		return tx.From(callRecordsTable).Where(where...)
	}

	if _, err := from().Select(goqu.COUNT(goqu.Star())).ScanValContext(ctx, &summary.TotalCalls); err != nil {
		return nil, errors.WithMessage(err, "counting calls")
	}

	err = from().
		Select(append([]interface{}{colCampaignName}, statusColumns()...)...).
		GroupBy(colCampaignName).
		Order(colCampaignName.Asc()).
		ScanStructsContext(ctx, &summary.ByCampaign)
	if err != nil {
		return nil, errors.WithMessage(err, "breaking down by campaign")
	}

	err = from().
		Select(append([]interface{}{colDtmf.As("dtmf_value")}, statusColumns()...)...).
		GroupBy(colDtmf).
		Order(colDtmf.Asc().NullsFirst()).
		ScanStructsContext(ctx, &summary.ByDtmf)
	if err != nil {
		return nil, errors.WithMessage(err, "breaking down by dtmf")
	}

	err = from().
		Select(colStatus.As("status"), goqu.COUNT(goqu.Star()).As("count")).
		GroupBy(colStatus).
		Order(colStatus.Asc()).
		ScanStructsContext(ctx, &summary.ByCallStatus)
	if err != nil {
		return nil, errors.WithMessage(err, "breaking down by status")
	}
	for i := range summary.ByCallStatus {
		summary.ByCallStatus[i].Percentage = percentage(summary.ByCallStatus[i].Count, summary.TotalCalls)
	}

	err = from().
		Select(colCallType.As("type"), goqu.COUNT(goqu.Star()).As("count")).
		GroupBy(colCallType).
		Order(colCallType.Asc()).
		ScanStructsContext(ctx, &summary.ByCallType)
	if err != nil {
		return nil, errors.WithMessage(err, "breaking down by call type")
	}

	var perf struct {
		AvgProcessing sql.NullFloat64 `db:"avg_processing"`
		AvgStorage    sql.NullFloat64 `db:"avg_storage"`
	}
	_, err = from().
		Select(goqu.AVG(colProcessing).As("avg_processing"), goqu.AVG(colStorage).As("avg_storage")).
		ScanStructContext(ctx, &perf)
	if err != nil {
		return nil, errors.WithMessage(err, "averaging performance")
	}
	summary.Performance = PerformanceMetrics{
		AvgProcessingTimeMs: round2(perf.AvgProcessing.Float64),
		AvgStorageTimeMs:    round2(perf.AvgStorage.Float64),
		TotalRequests:       summary.TotalCalls,
		SuccessfulRequests:  summary.TotalCalls,
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WithStack(err)
	}
	return summary, nil
}

func statusColumns() []interface{} {
	return []interface{}{
		goqu.COUNT(goqu.Star()).As("total"),
		countStatus(model.CallStatusAnswered).As("answered"),
		countStatus(model.CallStatusMissed).As("missed"),
		countStatus(model.CallStatusConnected).As("connected"),
	}
}

func countStatus(status model.CallStatus) exp.LiteralExpression {
	return goqu.L("COUNT(*) FILTER (WHERE ? = ?)", colStatus, string(status))
}

func percentage(count, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(count) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
