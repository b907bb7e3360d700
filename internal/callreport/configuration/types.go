package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/callrelay/callrelay/internal/common/database"
)

type CallReportConfiguration struct {
	// Port the summary api listens on
	HttpPort uint16 `validate:"gt=0"`
	// Metrics configuration
	MetricsPort uint16
	// Database configuration
	Postgres database.PostgresConfig
	// How long a summary is served from cache before it is recomputed. Zero disables caching.
	CacheTTL time.Duration `validate:"gte=0"`
	// Upper bound on computing one summary
	QueryTimeout time.Duration `validate:"gt=0"`
}

func (c CallReportConfiguration) Validate() error {
	return validator.New().Struct(c)
}
