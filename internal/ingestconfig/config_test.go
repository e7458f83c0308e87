package ingestconfig

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo-org/docingest/internal/cerrors"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_RejectsMissingDBURL(t *testing.T) {
	resetViper(t)
	require.NoError(t, os.Unsetenv("COORD_DB_URL"))

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrConfigInvalid))
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	resetViper(t)
	t.Setenv("COORD_DB_URL", "postgres://localhost/coord")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/coord", cfg.DBURL)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.Equal(t, 60, cfg.LeaderLeaseSeconds)
	assert.Equal(t, 10*time.Minute, cfg.ClaimTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WorkerTimeout)
	assert.Equal(t, 1, cfg.PipelineConcurrency)
}

func TestBindFlags_FlagOverridesDefault(t *testing.T) {
	resetViper(t)
	t.Setenv("COORD_DB_URL", "postgres://localhost/coord")

	flags := pflag.NewFlagSet("worker start", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--worker-id=fixed-worker", "--leader-lease-sec=30"}))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fixed-worker", cfg.WorkerID)
	assert.Equal(t, 30, cfg.LeaderLeaseSeconds)
}
