package pulsarutils

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonconfig "github.com/callrelay/callrelay/internal/common/config"
)

func callRecordsConfig() commonconfig.PulsarConfig {
	return commonconfig.PulsarConfig{
		URL:                     "pulsar://pulsarhost:50000",
		MaxConnectionsPerBroker: 1,
		CallRecordsTopic:        "persistent://callrelay/ingest/call-records",
		ReceiveTimeout:          5 * time.Second,
		BackoffTime:             time.Second,
		SendTimeout:             10 * time.Second,
	}
}

func TestNewPulsarClient(t *testing.T) {
	// Token and cert paths only need to name an existing file.
	executable, err := os.Executable()
	require.NoError(t, err)

	tests := map[string]func(c *commonconfig.PulsarConfig){
		"call records defaults": func(c *commonconfig.PulsarConfig) {},
		"tls and jwt": func(c *commonconfig.PulsarConfig) {
			c.TLSTrustCertsFilePath = executable
			c.TLSAllowInsecureConnection = true
			c.TLSValidateHostname = true
			c.AuthenticationEnabled = true
			c.AuthenticationType = "JWT"
			c.JwtTokenPath = executable
		},
		"auth type is case insensitive": func(c *commonconfig.PulsarConfig) {
			c.AuthenticationEnabled = true
			c.AuthenticationType = "jwt"
			c.JwtTokenPath = executable
		},
		"auth settings ignored when disabled": func(c *commonconfig.PulsarConfig) {
			c.AuthenticationType = "INVALID"
		},
	}
	for name, configure := range tests {
		t.Run(name, func(t *testing.T) {
			config := callRecordsConfig()
			configure(&config)
			client, err := NewPulsarClient(&config)
			require.NoError(t, err)
			client.Close()
		})
	}
}

func TestNewPulsarClient_InvalidAuth(t *testing.T) {
	tests := map[string]struct {
		authType  string
		tokenPath string
		contains  string
	}{
		"no auth type":      {contains: "invalid pulsar.AuthenticationType"},
		"unsupported type":  {authType: "INVALID", contains: "only JWT"},
		"jwt without token": {authType: "JWT", contains: "no JwtTokenPath"},
		"blank token path":  {authType: "JWT", tokenPath: "  ", contains: "no JwtTokenPath"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := callRecordsConfig()
			config.AuthenticationEnabled = true
			config.AuthenticationType = tc.authType
			config.JwtTokenPath = tc.tokenPath
			_, err := NewPulsarClient(&config)
			assert.ErrorContains(t, err, tc.contains)
		})
	}
}
