package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pursuit-core/utils"
)

func main() {
	var (
		mode      = flag.String("mode", ModeSim, "sim (kinematic arena) | can (SocketCAN vehicle)")
		iface     = flag.String("iface", "vcan0", "SocketCAN interface name")
		mapPath   = flag.String("map", "config/can/can_map.csv", "Path to can_map.csv")
		scenPath  = flag.String("scenario", "closed_loop/pursuit_arena_60s.json", "Scenario JSON file")
		telemetry = flag.String("telemetry", "", "SQLite file for decision ticks (empty disables)")
		logPath   = flag.String("logfile", "closed_loop.log", "Log file")
		logLevel  = flag.String("log", "info", "trace|debug|info|warn|error|critical")
	)
	flag.Parse()

	log, err := utils.NewFileLogger(*logPath, utils.ParseLevel(*logLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *logPath + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	cfg := RunnerConfig{
		Mode:          *mode,
		Interface:     *iface,
		MapPath:       *mapPath,
		ScenarioPath:  *scenPath,
		TelemetryPath: *telemetry,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}
