// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	internalconfig "github.com/JakeFAU/statement-crawler/internal/config"
)

// EnvPrefix namespaces environment overrides, e.g. STATEMENT_CRAWLER_WORKERS=4
// or STATEMENT_CRAWLER_BROWSER_HEADLESS=false.
const EnvPrefix = "STATEMENT_CRAWLER"

// InitConfig prepares v: defaults, environment variables, and the config
// file. An explicit cfgFile must exist; otherwise the search paths are tried
// and a missing file is not an error.
func InitConfig(v *viper.Viper, cfgFile string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	internalconfig.SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/statement-crawler/")
		v.AddConfigPath("$HOME/.statement-crawler")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			logger.Debug("config file not found; using defaults and environment variables")
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	logger.Info("using config file", zap.String("path", v.ConfigFileUsed()))
	return nil
}
