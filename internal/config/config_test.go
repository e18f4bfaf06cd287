package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, err := load([]string{"--jwt-key", "k"}, env(nil))
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Addr)
	require.Equal(t, MaxStepUpTTL, c.StepUpTTL)
	require.Equal(t, "docvault.events", c.KafkaTopic)
	require.Empty(t, c.KafkaBrokers)
	require.Equal(t, int32(10), c.MaxConns)
	require.Equal(t, "postgres", c.Limiter)
}

func TestLoad_EnvFallbackAndFlagPrecedence(t *testing.T) {
	c, err := load([]string{"--addr", ":9000"}, env(map[string]string{
		"DOCVAULT_JWT_KEY":       "from-env",
		"DOCVAULT_ADDR":          ":7000",
		"DOCVAULT_KAFKA_BROKERS": "k1:9092,k2:9092",
		"DOCVAULT_STEP_UP_TTL":   "90s",
	}))
	require.NoError(t, err)
	require.Equal(t, "from-env", c.JWTKey)
	require.Equal(t, ":9000", c.Addr)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	require.Equal(t, 90*time.Second, c.StepUpTTL)
}

func TestLoad_Validation(t *testing.T) {
	_, err := load(nil, env(nil))
	require.ErrorContains(t, err, "jwt")

	_, err = load([]string{"--jwt-key", "k", "--step-up-ttl", "5m"}, env(nil))
	require.ErrorContains(t, err, "step-up-ttl")

	_, err = load([]string{"--jwt-key", "k", "--scorer", "oracle"}, env(nil))
	require.Error(t, err)

	_, err = load([]string{"--jwt-key", "k", "--limiter", "redis"}, env(nil))
	require.ErrorContains(t, err, "limiter")

	_, err = load([]string{"--jwt-key", "k"}, env(map[string]string{"DOCVAULT_RATE_BURST": "lots"}))
	require.ErrorContains(t, err, "DOCVAULT_RATE_BURST")
}
