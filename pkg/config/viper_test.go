package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalconfig "github.com/JakeFAU/statement-crawler/internal/config"
)

func TestInitConfigReadsExplicitFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: out\nworkers: 3\n"), 0o600))

	v := viper.New()
	require.NoError(t, InitConfig(v, path, zap.NewNop()))
	cfg, err := internalconfig.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.Output)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 100, cfg.Worker.RestartAfter)
}

func TestInitConfigMissingExplicitFileFails(t *testing.T) {
	t.Parallel()

	err := InitConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.ErrorContains(t, err, "read config")
}

func TestInitConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("STATEMENT_CRAWLER_OUTPUT", "from-env")
	t.Setenv("STATEMENT_CRAWLER_WORKER_RESTART_AFTER", "7")
	t.Setenv("STATEMENT_CRAWLER_JUDGES", "loj,luogu")
	t.Chdir(t.TempDir())

	v := viper.New()
	require.NoError(t, InitConfig(v, "", nil))
	cfg, err := internalconfig.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Output)
	assert.Equal(t, 7, cfg.Worker.RestartAfter)
	assert.Equal(t, []string{"loj", "luogu"}, cfg.Judges)
}
