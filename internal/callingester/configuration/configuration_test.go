package configuration

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonconfig "github.com/callrelay/callrelay/internal/common/config"
	"github.com/callrelay/callrelay/internal/common/database"
)

func validConfig() CallIngesterConfiguration {
	return CallIngesterConfiguration{
		Postgres: database.PostgresConfig{Connection: map[string]string{"host": "localhost"}},
		Pulsar: commonconfig.PulsarConfig{
			URL:              "pulsar://localhost:6650",
			CallRecordsTopic: "persistent://public/default/call-records",
		},
		SubscriptionName:     "call-ingester",
		PrefetchBudget:       500,
		BatchSize:            500,
		FlushInterval:        2 * time.Second,
		TickInterval:         time.Second,
		AckPolicy:            AckOnBuffer,
		StartupAttempts:      5,
		FlushTimeout:         10 * time.Second,
	}
}

func failedFields(t *testing.T, err error) []string {
	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)
	var fields []string
	for _, e := range validationErrors {
		fields = append(fields, e.Field())
	}
	return fields
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *CallIngesterConfiguration)
		failed []string
	}{
		"valid": {
			mutate: func(c *CallIngesterConfiguration) {},
		},
		"valid with ceiling": {
			mutate: func(c *CallIngesterConfiguration) { c.MaxBufferedRecords = 1000 },
		},
		"missing subscription": {
			mutate: func(c *CallIngesterConfiguration) { c.SubscriptionName = "" },
			failed: []string{"SubscriptionName"},
		},
		"zero batch size": {
			mutate: func(c *CallIngesterConfiguration) { c.BatchSize = 0 },
			failed: []string{"BatchSize"},
		},
		"ceiling below batch size": {
			mutate: func(c *CallIngesterConfiguration) { c.MaxBufferedRecords = 10 },
			failed: []string{"MaxBufferedRecords"},
		},
		"unknown ack policy": {
			mutate: func(c *CallIngesterConfiguration) { c.AckPolicy = "sometimes" },
			failed: []string{"AckPolicy"},
		},
		"dead letter without stream": {
			mutate: func(c *CallIngesterConfiguration) {
				c.DeadLetter = DeadLetterConfig{Enabled: true, Redis: redis.UniversalOptions{Addrs: []string{"localhost:6379"}}}
			},
			failed: []string{"Stream"},
		},
		"disabled dead letter is not checked": {
			mutate: func(c *CallIngesterConfiguration) { c.DeadLetter = DeadLetterConfig{Enabled: false} },
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if len(tc.failed) == 0 {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tc.failed, failedFields(t, err))
		})
	}
}

func TestAckPolicy_UnmarshalText(t *testing.T) {
	var p AckPolicy
	require.NoError(t, p.UnmarshalText([]byte("onStore")))
	assert.Equal(t, AckOnStore, p)
	require.NoError(t, p.UnmarshalText([]byte("ONBUFFER")))
	assert.Equal(t, AckOnBuffer, p)

	err := p.UnmarshalText([]byte("never"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[onBuffer onStore]")
}
