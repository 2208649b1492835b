package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("PORT", "9999")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.WS.EventTimeout)
	assert.Equal(t, 3, cfg.Membership.MaxRetries)
	assert.Equal(t, "chat-engine", cfg.Log.ServiceName)
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
auth:
  jwt_secret: abc
ws:
  event_timeout: 2s
membership:
  max_retries: 5
`)))

	cfg, err := load(v)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.WS.EventTimeout)
	assert.Equal(t, 5, cfg.Membership.MaxRetries)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := load(viper.New())
	assert.ErrorContains(t, err, "jwt_secret")

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("STORE_DRIVER", "mongo")
	_, err = load(viper.New())
	assert.ErrorContains(t, err, "unsupported store driver")
}
