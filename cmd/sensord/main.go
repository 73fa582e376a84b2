package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/sensord/internal/config"
	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/gpu"
	"codeberg.org/mutker/sensord/internal/logger"
	"codeberg.org/mutker/sensord/internal/monitor"
	"codeberg.org/mutker/sensord/internal/pid"
	"codeberg.org/mutker/sensord/internal/telemetry"
	"codeberg.org/mutker/sensord/internal/thresholds"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
		os.Exit(1)
	}
}

func run() error {
	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	source, err := gpu.New()
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to shut down GPU")
		}
	}()

	store, err := thresholds.Open(thresholds.Config{DBPath: cfg.ThresholdsDB}, logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close thresholds store")
		}
	}()

	collector, err := telemetry.NewService(telemetry.Config{
		DBPath:       cfg.TelemetryDB,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Enabled:      cfg.Telemetry,
	}, logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry")
		}
	}()

	mon := monitor.New(monitor.Config{
		Source: source,
		Sink:   &telemetrySink{collector: collector},
		Store:  store,
	})
	defer func() {
		if err := mon.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close monitor")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := registerParameters(mon); err != nil {
		return err
	}

	if err := mon.LoadThresholds(ctx); err != nil {
		return err
	}

	if cfg.Once {
		if err := mon.RefreshNow(ctx); err != nil {
			return err
		}
		logStatus(mon)
		return nil
	}

	interval := time.Duration(cfg.Interval) * time.Second
	if err := mon.Start(ctx, interval); err != nil {
		return err
	}
	logger.Info().
		Str("interval", interval.String()).
		Msg("Monitoring GPU...")

	<-ctx.Done()
	logger.Info().Msg("Exiting...")

	return nil
}

func registerParameters(mon *monitor.Monitor) error {
	params := []struct {
		name     string
		label    string
		ranges   config.Range
		critical bool
	}{
		{gpu.ParamTemperature, "GPU Temperature", cfg.Temperature, true},
		{gpu.ParamPower, "GPU Power Draw", cfg.Power, true},
		{gpu.ParamFanSpeed, "GPU Fan Speed", cfg.FanSpeed, false},
		{gpu.ParamUtilization, "GPU Utilization", cfg.Utilization, false},
	}

	for _, p := range params {
		if err := mon.AddParameter(p.name, p.label, p.ranges.Thresholds()); err != nil {
			return err
		}
		if p.critical {
			if err := mon.MarkCritical(p.name); err != nil {
				return err
			}
		}
	}

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func logStatus(mon *monitor.Monitor) {
	event := logger.Info()
	for _, p := range mon.Parameters() {
		event.Float64(p.Name, p.Value)
		event.Str(p.Name+"_zone", p.Zone.String())
	}
	event.Str("state", mon.CurrentState().String())
	event.Msg("")
}

// telemetrySink pushes aggregate state changes and fetch faults into
// the telemetry collector.
type telemetrySink struct {
	collector telemetry.Collector
}

func (s *telemetrySink) StateChanged(state monitor.State, zones map[string]monitor.Zone) {
	zoneNames := make(map[string]string, len(zones))
	for name, zone := range zones {
		zoneNames[name] = zone.String()
	}

	logger.Info().
		Str("state", state.String()).
		Interface("zones", zoneNames).
		Msg("Device state changed")

	if err := s.collector.RecordTransition(context.Background(), &telemetry.Transition{
		State: state.String(),
		Zones: zoneNames,
	}); err != nil {
		logger.Error().Err(err).Msg("failed to record state transition")
	}
}

func (s *telemetrySink) FetchFaulted(err error) {
	logger.Warn().Err(err).Msg("Fetch cycle faulted")

	if recordErr := s.collector.RecordFault(context.Background(), &telemetry.Fault{
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	}); recordErr != nil {
		logger.Error().Err(recordErr).Msg("failed to record fetch fault")
	}
}
