package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/callrelay/callrelay/internal/common/database"
)

func TestValidate(t *testing.T) {
	valid := CallReportConfiguration{
		HttpPort:     8002,
		Postgres:     database.PostgresConfig{Connection: map[string]string{"host": "localhost"}},
		CacheTTL:     5 * time.Second,
		QueryTimeout: 10 * time.Second,
	}
	assert.NoError(t, valid.Validate())

	noCache := valid
	noCache.CacheTTL = 0
	assert.NoError(t, noCache.Validate())

	noTimeout := valid
	noTimeout.QueryTimeout = 0
	assert.Error(t, noTimeout.Validate())

	noPostgres := valid
	noPostgres.Postgres.Connection = nil
	assert.Error(t, noPostgres.Validate())
}
