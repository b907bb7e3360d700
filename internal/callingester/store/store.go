package store

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/common/database"
	commonmetrics "github.com/callrelay/callrelay/internal/common/ingest/metrics"
	"github.com/callrelay/callrelay/internal/common/util"
)

//go:embed migrations/*.sql
var migrationsFs embed.FS

// Migrations returns the schema migrations for the call_records table.
func Migrations() ([]database.Migration, error) {
	return database.ReadMigrations(migrationsFs, "migrations")
}

var columns = []string{
	"overall_call_status",
	"customer_name",
	"client_correlation_id",
	"call_type",
	"conversation_duration",
	"overall_call_duration",
	"campaign_id",
	"campaign_name",
	"caller_id",
	"dtmf_capture",
	"participants_data",
	"call_timestamp",
	"session_id",
	"processing_time_ms",
	"storage_time_ms",
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTxFunc(ctx context.Context, txOptions pgx.TxOptions, f func(pgx.Tx) error) error
}

// PostgresSink writes batches to the call_records table. Each Write is a single transaction: rows
// are copied into a temporary table and then inserted into call_records in one statement, so a
// batch is stored entirely or not at all.
type PostgresSink struct {
	db      TxBeginner
	metrics *commonmetrics.Metrics
}

func NewPostgresSink(db TxBeginner, metrics *commonmetrics.Metrics) *PostgresSink {
	return &PostgresSink{db: db, metrics: metrics}
}

// Write stores rows and returns the number inserted. Failures are returned as *StorageError and are
// not retried.
func (s *PostgresSink) Write(ctx context.Context, rows []*model.StoredRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tmpTable := "call_records_tmp_" + util.NewIdentifierSuffix()
	stage := commonmetrics.DBOperationCreateTempTable
	inserted := 0

	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{
		IsoLevel:       pgx.ReadCommitted,
		AccessMode:     pgx.ReadWrite,
		DeferrableMode: pgx.Deferrable,
	}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
				CREATE TEMPORARY TABLE %s
				(
				  ordinal               integer,
				  overall_call_status   varchar(16),
				  customer_name         text,
				  client_correlation_id text,
				  call_type             varchar(16),
				  conversation_duration double precision,
				  overall_call_duration varchar(8),
				  campaign_id           text,
				  campaign_name         text,
				  caller_id             text,
				  dtmf_capture          smallint,
				  participants_data     jsonb,
				  call_timestamp        timestamp,
				  session_id            text,
				  processing_time_ms    double precision,
				  storage_time_ms       double precision
				) ON COMMIT DROP;`, tmpTable))
		if err != nil {
			return err
		}

		stage = commonmetrics.DBOperationInsert
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{tmpTable},
			append([]string{"ordinal"}, columns...),
			pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
				return append([]interface{}{i}, rowValues(rows[i])...), nil
			}),
		)
		if err != nil {
			return err
		}

		// Ordering by ordinal keeps ids in append order.
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			"INSERT INTO call_records (%[1]s) SELECT %[1]s FROM %[2]s ORDER BY ordinal",
			strings.Join(columns, ", "), tmpTable))
		if err != nil {
			return err
		}
		inserted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		s.metrics.RecordDBError(stage)
		return 0, newStorageError(len(rows), err)
	}
	return inserted, nil
}

func rowValues(row *model.StoredRow) []interface{} {
	dtmf := pgtype.Int2{Status: pgtype.Null}
	if row.DtmfCapture != nil {
		dtmf = pgtype.Int2{Int: int16(*row.DtmfCapture), Status: pgtype.Present}
	}
	return []interface{}{
		row.OverallCallStatus,
		row.CustomerName,
		row.ClientCorrelationId,
		row.CallType,
		row.ConversationDuration,
		row.OverallCallDuration,
		row.CampaignId,
		row.CampaignName,
		row.CallerId,
		dtmf,
		pgtype.JSONB{Bytes: row.ParticipantsData, Status: pgtype.Present},
		row.CallTimestamp.UTC(),
		row.SessionId,
		row.ProcessingTimeMs,
		row.BufferDwellMs,
	}
}

// StorageError is returned when a batch could not be stored. None of the batch was written.
type StorageError struct {
	BatchSize int
	// Postgres SQLSTATE, empty if the failure did not come from the server.
	Code  string
	cause error
}

func newStorageError(batchSize int, cause error) *StorageError {
	e := &StorageError{BatchSize: batchSize, cause: errors.WithStack(cause)}
	var pgErr *pgconn.PgError
	if errors.As(cause, &pgErr) {
		e.Code = pgErr.Code
	}
	return e
}

func (e *StorageError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storing batch of %d records failed (sqlstate %s): %v", e.BatchSize, e.Code, e.cause)
	}
	return fmt.Sprintf("storing batch of %d records failed: %v", e.BatchSize, e.cause)
}

func (e *StorageError) Cause() error {
	return e.cause
}

func (e *StorageError) Unwrap() error {
	return e.cause
}

// Transient reports whether the failure is one that replaying the same batch could get past:
// connection loss, resource exhaustion, serialization failures and errors that never reached the
// server.
func (e *StorageError) Transient() bool {
	if e.Code == "" {
		return true
	}
	return pgerrcode.IsConnectionException(e.Code) ||
		pgerrcode.IsInsufficientResources(e.Code) ||
		pgerrcode.IsTransactionRollback(e.Code) ||
		pgerrcode.IsOperatorIntervention(e.Code)
}

// IsTransient reports whether err is a *StorageError whose batch could be stored if replayed.
func IsTransient(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr) && storageErr.Transient()
}
