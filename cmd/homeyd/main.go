package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	platform "github.com/ashsolei/HomeySmartHome"
	"github.com/ashsolei/HomeySmartHome/feeders"
	"github.com/ashsolei/HomeySmartHome/gateway"
	"github.com/ashsolei/HomeySmartHome/modules/climate"
	"github.com/ashsolei/HomeySmartHome/modules/energy"
	"github.com/ashsolei/HomeySmartHome/modules/irrigation"
	"github.com/ashsolei/HomeySmartHome/modules/lighting"
	"github.com/ashsolei/HomeySmartHome/modules/presence"
	"github.com/ashsolei/HomeySmartHome/realtime"
)

// AppConfig holds the top-level application settings.
type AppConfig struct {
	AppName     string `yaml:"appName" default:"homey" desc:"Application name"`
	Environment string `yaml:"environment" default:"dev" desc:"Environment (dev, test, prod)"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// Env vars stay last so they win over file values; HOMEY_<MODULE>_*
	// variables override single sections. A missing config file is fine;
	// every section carries usable defaults.
	haveConfigFile := false
	if _, err := os.Stat(*configPath); err == nil {
		haveConfigFile = true
		platform.ConfigFeeders = []platform.Feeder{
			feeders.NewYamlFeeder(*configPath),
			feeders.ModuleEnvFeeder{},
			feeders.NewEnvFeeder(),
		}
	} else {
		logger.Warn("Config file not found, using defaults", "path", *configPath)
		platform.ConfigFeeders = []platform.Feeder{
			feeders.ModuleEnvFeeder{},
			feeders.NewEnvFeeder(),
		}
	}

	app := platform.NewStdApplication(
		platform.NewStdConfigProvider(&AppConfig{}),
		logger,
		platform.WithDegradedRecovery(time.Minute),
	)

	modules := []platform.Module{
		realtime.NewRealtimeModule(),
		gateway.NewGatewayModule(),
		energy.NewEnergyModule(),
		climate.NewClimateModule(),
		lighting.NewLightingModule(),
		irrigation.NewIrrigationModule(),
		presence.NewPresenceModule(),
	}
	for _, module := range modules {
		if err := app.RegisterModule(module); err != nil {
			logger.Error("Failed to register module", "module", module.Name(), "error", err)
			os.Exit(1)
		}
	}

	if haveConfigFile {
		watcher, err := platform.NewConfigWatcher(app.(*platform.StdApplication), *configPath)
		if err != nil {
			logger.Error("Failed to create config watcher", "error", err)
			os.Exit(1)
		}
		if err := watcher.Start(context.Background()); err != nil {
			logger.Error("Failed to start config watcher", "error", err)
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	if err := app.Run(); err != nil {
		logger.Error("Application error", "error", err)
		os.Exit(1)
	}
}
