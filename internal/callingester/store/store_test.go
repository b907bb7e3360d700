package store

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/common/database"
	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
)

var (
	baseTime    = time.Date(2023, 4, 1, 10, 15, 0, 0, time.UTC)
	testMetrics = commonmetrics.NewMetricsWithRegisterer("test_", prometheus.NewRegistry())
)

// fakeTx records the statements issued against it. Statements containing failOn return err.
type fakeTx struct {
	pgx.Tx
	statements []string
	copied     [][]interface{}
	failOn     string
	err        error
}

func (tx *fakeTx) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	tx.statements = append(tx.statements, sql)
	if tx.failOn != "" && strings.Contains(sql, tx.failOn) {
		return nil, tx.err
	}
	if strings.Contains(sql, "INSERT INTO call_records") {
		return pgconn.CommandTag("INSERT 0 " + strconv.Itoa(len(tx.copied))), nil
	}
	return pgconn.CommandTag("CREATE TABLE"), nil
}

func (tx *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	tx.statements = append(tx.statements, "COPY "+strings.Join(columns, ","))
	if tx.failOn == "COPY" {
		return 0, tx.err
	}
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		tx.copied = append(tx.copied, values)
	}
	return int64(len(tx.copied)), nil
}

type fakeBeginner struct {
	tx      *fakeTx
	options pgx.TxOptions
	err     error
}

func (b *fakeBeginner) BeginTxFunc(_ context.Context, options pgx.TxOptions, f func(pgx.Tx) error) error {
	b.options = options
	if b.err != nil {
		return b.err
	}
	return f(b.tx)
}

func rows(ids ...string) []*model.StoredRow {
	dtmf := int32(1)
	out := make([]*model.StoredRow, len(ids))
	for i, id := range ids {
		out[i] = &model.StoredRow{
			OverallCallStatus:    "Answered",
			CustomerName:         "Acme Ltd",
			ClientCorrelationId:  id,
			CallType:             "INBOUND",
			ConversationDuration: 42.5,
			OverallCallDuration:  "00:01:05",
			CampaignId:           "c-1",
			CampaignName:         "Spring",
			CallerId:             "+15550100",
			DtmfCapture:          &dtmf,
			ParticipantsData:     []byte(`[{"participantAddress":"a","participantType":"agent","status":"ok","duration":1}]`),
			CallTimestamp:        baseTime,
			SessionId:            "s-" + id,
			ProcessingTimeMs:     1.5,
			BufferDwellMs:        20,
		}
	}
	if len(out) > 1 {
		out[1].DtmfCapture = nil
	}
	return out
}

func TestWrite_SingleTransaction(t *testing.T) {
	tx := &fakeTx{}
	beginner := &fakeBeginner{tx: tx}
	sink := NewPostgresSink(beginner, testMetrics)

	n, err := sink.Write(context.Background(), rows("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, pgx.ReadCommitted, beginner.options.IsoLevel)

	require.Len(t, tx.statements, 3)
	assert.Contains(t, tx.statements[0], "CREATE TEMPORARY TABLE call_records_tmp_")
	assert.Contains(t, tx.statements[0], "ON COMMIT DROP")
	assert.True(t, strings.HasPrefix(tx.statements[1], "COPY ordinal,overall_call_status"))
	assert.Contains(t, tx.statements[2], "INSERT INTO call_records")
	assert.Contains(t, tx.statements[2], "ORDER BY ordinal")

	require.Len(t, tx.copied, 3)
	for i, values := range tx.copied {
		assert.Equal(t, i, values[0])
		assert.Len(t, values, len(columns)+1)
	}
	assert.Equal(t, "a", tx.copied[0][3])
	assert.Equal(t, "c", tx.copied[2][3])
}

func TestWrite_EmptyBatchDoesNothing(t *testing.T) {
	beginner := &fakeBeginner{tx: &fakeTx{}}
	n, err := NewPostgresSink(beginner, testMetrics).Write(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, beginner.tx.statements)
}

func TestWrite_FailuresBecomeStorageErrors(t *testing.T) {
	tests := map[string]struct {
		beginErr  error
		failOn    string
		err       error
		code      string
		transient bool
	}{
		"connection refused at begin": {
			beginErr:  errors.New("dial tcp: connection refused"),
			transient: true,
		},
		"copy fails": {
			failOn:    "COPY",
			err:       &pgconn.PgError{Code: pgerrcode.AdminShutdown, Message: "terminating connection"},
			code:      pgerrcode.AdminShutdown,
			transient: true,
		},
		"insert violates constraint": {
			failOn:    "INSERT INTO call_records",
			err:       &pgconn.PgError{Code: pgerrcode.CheckViolation, Message: "dtmf_capture"},
			code:      pgerrcode.CheckViolation,
			transient: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			beginner := &fakeBeginner{tx: &fakeTx{failOn: tc.failOn, err: tc.err}, err: tc.beginErr}
			n, err := NewPostgresSink(beginner, testMetrics).Write(context.Background(), rows("a", "b"))
			assert.Equal(t, 0, n)

			var storageErr *StorageError
			require.ErrorAs(t, err, &storageErr)
			assert.Equal(t, 2, storageErr.BatchSize)
			assert.Equal(t, tc.code, storageErr.Code)
			assert.Equal(t, tc.transient, storageErr.Transient())
		})
	}
}

func TestMigrations(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	assert.Len(t, migrations, 2)
}

func TestWrite_Postgres(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)

	database.WithTestDb(t, migrations, func(db *pgxpool.Pool) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink := NewPostgresSink(db, testMetrics)

		n, err := sink.Write(ctx, rows("a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		var stored []string
		var nullDtmf int
		queryRows, err := db.Query(ctx, "SELECT client_correlation_id FROM call_records ORDER BY id")
		require.NoError(t, err)
		for queryRows.Next() {
			var id string
			require.NoError(t, queryRows.Scan(&id))
			stored = append(stored, id)
		}
		queryRows.Close()
		assert.Equal(t, []string{"a", "b", "c"}, stored)

		require.NoError(t, db.QueryRow(ctx, "SELECT count(*) FROM call_records WHERE dtmf_capture IS NULL").Scan(&nullDtmf))
		assert.Equal(t, 1, nullDtmf)

		// A row violating the dtmf check rolls back the whole batch.
		bad := rows("d", "e")
		invalid := int32(7)
		bad[1].DtmfCapture = &invalid
		_, err = sink.Write(ctx, bad)
		var storageErr *StorageError
		require.ErrorAs(t, err, &storageErr)
		assert.Equal(t, pgerrcode.CheckViolation, storageErr.Code)

		var count int
		require.NoError(t, db.QueryRow(ctx, "SELECT count(*) FROM call_records").Scan(&count))
		assert.Equal(t, 3, count)
	})
}
