package configuration

import (
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/go-playground/validator/v10"

	commonconfig "github.com/callrelay/callrelay/internal/common/config"
)

type CallIngressConfiguration struct {
	// Port the receive api listens on
	HttpPort uint16 `validate:"gt=0"`
	// Metrics configuration
	MetricsPort uint16
	// General Pulsar configuration
	Pulsar commonconfig.PulsarConfig
	// Compression applied by the producer
	CompressionType pulsar.CompressionType
	// Largest request body accepted by the receive api
	MaxPayloadBytes int64 `validate:"gt=0"`
	// Number of attempts made to create the producer at startup
	StartupAttempts uint `validate:"gt=0"`
	// Delay between startup attempts
	StartupBackoff time.Duration
}

func (c CallIngressConfiguration) Validate() error {
	return validator.New().Struct(c)
}
