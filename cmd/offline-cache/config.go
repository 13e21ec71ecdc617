package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gigview/offline-cache/service"
)

// loadConfig reads config.yaml from confPath, applies defaults, and lets
// environment variables override everything. OFFLINE_CACHE_API_BASE_URL
// overrides api.base_url, and so on.
func loadConfig(confPath string, logger *slog.Logger) (service.Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(confPath)

	viper.SetDefault("store.path", "./offline-cache.db")
	viper.SetDefault("api.base_url", "https://api.gigview.app")
	viper.SetDefault("queue.dispatch_timeout", "10s")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("OFFLINE_CACHE")
	// Map dotted config keys to env names, so api.base_url reads from
	// OFFLINE_CACHE_API_BASE_URL.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Debug("no config file found, using defaults and env vars")
		} else {
			return service.Config{}, err
		}
	}

	dispatchTimeout, err := time.ParseDuration(viper.GetString("queue.dispatch_timeout"))
	if err != nil {
		return service.Config{}, err
	}

	return service.Config{
		StorePath:       viper.GetString("store.path"),
		BaseURL:         viper.GetString("api.base_url"),
		Token:           viper.GetString("api.token"),
		ProbeURL:        viper.GetString("probe.url"),
		DispatchTimeout: dispatchTimeout,
		Logger:          logger,
	}, nil
}
