package configuration

import (
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/go-redis/redis"

	commonconfig "github.com/callrelay/callrelay/internal/common/config"
	"github.com/callrelay/callrelay/internal/common/database"
)

type CallIngesterConfiguration struct {
	// Database configuration
	Postgres database.PostgresConfig
	// Metrics configuration
	MetricsPort uint16
	// General Pulsar configuration
	Pulsar commonconfig.PulsarConfig
	// Pulsar subscription name
	SubscriptionName string `validate:"required"`
	// Pulsar subscription type. Shared lets several ingesters split one topic.
	SubscriptionType pulsar.SubscriptionType
	// Maximum number of unacknowledged messages the broker will push to this consumer
	PrefetchBudget int `validate:"gt=0"`
	// Number of buffered records that triggers a flush
	BatchSize int `validate:"gt=0"`
	// Maximum time since the last flush before buffered records are flushed
	FlushInterval time.Duration `validate:"gt=0"`
	// How often the time trigger checks whether a flush is due
	TickInterval time.Duration `validate:"gt=0"`
	// Maximum number of records held in the buffer. Zero means no limit.
	MaxBufferedRecords int `validate:"gte=0"`
	// When messages are acknowledged to the broker
	AckPolicy AckPolicy
	// Number of attempts made to connect to postgres and pulsar at startup
	StartupAttempts uint `validate:"gt=0"`
	// Delay between startup attempts
	StartupBackoff time.Duration
	// Upper bound on writing one batch and acknowledging its messages
	FlushTimeout time.Duration `validate:"gt=0"`
	// Where records of batches that fail to store are kept
	DeadLetter DeadLetterConfig
}

type DeadLetterConfig struct {
	Enabled bool
	Redis   redis.UniversalOptions
	// Redis stream the records are appended to
	Stream string
	// Approximate cap on the stream length. Zero means uncapped.
	MaxLen int64 `validate:"gte=0"`
}
