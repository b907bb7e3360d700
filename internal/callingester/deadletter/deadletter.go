package deadletter

import (
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/callrelay/callrelay/internal/callingester/codec"
	"github.com/callrelay/callrelay/internal/callingester/model"
	"github.com/callrelay/callrelay/internal/callingester/store"
)

const (
	recordKey    = "record"
	messageIdKey = "messageId"
	errorKey     = "error"
	sqlStateKey  = "sqlstate"
	failedAtKey  = "failedAt"
)

// Entry is one dead-lettered record.
type Entry struct {
	Id        string
	Payload   []byte
	MessageId string
	Error     string
	SqlState  string
	FailedAt  time.Time
}

// Record decodes the payload of the entry.
func (e *Entry) Record() (*model.EventRecord, error) {
	return codec.Decode(e.Payload)
}

// RedisStore keeps the records of batches that failed to store in a capped redis stream, one stream
// entry per record, so that they can be inspected and replayed.
type RedisStore struct {
	db     redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisStore(db redis.UniversalClient, stream string, maxLen int64) *RedisStore {
	return &RedisStore{db: db, stream: stream, maxLen: maxLen}
}

// Add writes every record of a failed batch to the stream in a single round trip.
func (s *RedisStore) Add(records []*model.BufferedRecord, cause error, failedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}
	sqlState := ""
	var storageErr *store.StorageError
	if errors.As(cause, &storageErr) {
		sqlState = storageErr.Code
	}
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	pipe := s.db.Pipeline()
	for _, r := range records {
		payload, err := codec.EncodeRecord(r.Record)
		if err != nil {
			return err
		}
		messageId := ""
		if r.MessageId != nil {
			messageId = r.MessageId.String()
		}
		pipe.XAdd(&redis.XAddArgs{
			Stream:       s.stream,
			MaxLenApprox: s.maxLen,
			Values: map[string]interface{}{
				recordKey:    payload,
				messageIdKey: messageId,
				errorKey:     causeText,
				sqlStateKey:  sqlState,
				failedAtKey:  failedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	_, err := pipe.Exec()
	return errors.WithStack(err)
}

// List returns up to count entries, oldest first.
func (s *RedisStore) List(count int64) ([]*Entry, error) {
	messages, err := s.db.XRangeN(s.stream, "-", "+", count).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	entries := make([]*Entry, 0, len(messages))
	for _, msg := range messages {
		failedAt, err := time.Parse(time.RFC3339Nano, stringValue(msg.Values, failedAtKey))
		if err != nil {
			return nil, errors.WithMessagef(err, "dead-letter entry %s has an invalid failure time", msg.ID)
		}
		entries = append(entries, &Entry{
			Id:        msg.ID,
			Payload:   []byte(stringValue(msg.Values, recordKey)),
			MessageId: stringValue(msg.Values, messageIdKey),
			Error:     stringValue(msg.Values, errorKey),
			SqlState:  stringValue(msg.Values, sqlStateKey),
			FailedAt:  failedAt,
		})
	}
	return entries, nil
}

// Delete removes the given entries, typically after they have been replayed.
func (s *RedisStore) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return errors.WithStack(s.db.XDel(s.stream, ids...).Err())
}

// Len returns the number of entries in the stream.
func (s *RedisStore) Len() (int64, error) {
	n, err := s.db.XLen(s.stream).Result()
	return n, errors.WithStack(err)
}

func stringValue(values map[string]interface{}, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
