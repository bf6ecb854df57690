package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dharaflow"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "selftest":
		err = selftestCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("dharad %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to device configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := dharaflow.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := dharaflow.NewRuntime(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := dharaflow.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good ✅\n", *cfgPath)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming vitals from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"dhara_pulse_bpm":                 0,
		"dhara_session_active":            0,
		"dhara_flow_setpoint_ml_min":      0,
		"dhara_temp_setpoint_celsius":     0,
		"dhara_telemetry_published_total": 0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] pulse=%.1f active=%.0f flow=%.1f temp=%.1f published=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["dhara_pulse_bpm"],
		targets["dhara_session_active"],
		targets["dhara_flow_setpoint_ml_min"],
		targets["dhara_temp_setpoint_celsius"],
		targets["dhara_telemetry_published_total"],
	)
	return nil
}

// selftestCommand runs one short synthetic session entirely in-process:
// no sensor hardware, no Redis, no NATS. It proves the sampler, the
// detector and the session engine work on this machine.
func selftestCommand(args []string) error {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	duration := fs.Duration("duration", 10*time.Second, "How long to run the synthetic session")
	bpm := fs.Float64("bpm", 72, "Synthetic waveform pulse rate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := &dharaflow.Config{}
	cfg.Device.ID = "selftest"
	cfg.Sensor.Driver = dharaflow.SensorSynthetic
	cfg.Actuator.Driver = dharaflow.ActuatorLog
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Sampling.SynthBPM = *bpm
	cfg.Telemetry.Interval = dharaflow.Duration(time.Second)

	lc := dharaflow.NewLocalCommander()
	sink, records, closeSink := dharaflow.NewChannelSink("selftest", 32)
	defer closeSink()

	rt, err := dharaflow.NewRuntime(cfg,
		dharaflow.WithCommandSource(lc),
		dharaflow.WithSessionStore(selftestStore{sessionLength: 2 * *duration}),
		dharaflow.WithPresence(nopPresence{}),
		dharaflow.WithTelemetrySink(sink),
		dharaflow.WithAlertSink(dharaflow.NewCallbackAlerts(func(a dharaflow.Alert) error {
			fmt.Printf("ALERT %s %s: %s (%.1f)\n", a.Level, a.Type, a.Message, a.Value)
			return nil
		})),
	)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	if err := rt.Start(); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := lc.Submit(ctx, dharaflow.Command{
		Name:    dharaflow.CmdStartSession,
		Payload: map[string]any{"patientId": "selftest", "sessionId": "selftest"},
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if res.Err != "" {
		return fmt.Errorf("start session rejected: %s", res.Err)
	}
	fmt.Printf("session started, sampling the %.0f bpm synthetic waveform for %s\n", *bpm, *duration)

	timer := time.NewTimer(*duration)
	defer timer.Stop()
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-timer.C:
			running = false
		case rec := <-records:
			pulse := "-"
			if rec.Pulse != nil {
				pulse = fmt.Sprintf("%.1f", *rec.Pulse)
			}
			fmt.Printf("vitals pulse=%s spo2=%.0f flow=%.1f temp=%.1f\n",
				pulse, rec.SpO2, rec.FlowState, rec.Temperature)
		}
	}

	if est, ok := rt.Pulse(); ok {
		fmt.Printf("detector estimate %.1f bpm from %d rr intervals\n", est.BPM, len(est.RR))
	} else {
		fmt.Println("detector produced no estimate; try a longer -duration")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err = lc.Submit(stopCtx, dharaflow.Command{Name: dharaflow.CmdStopSession})
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	if res.Err != "" {
		return fmt.Errorf("stop session rejected: %s", res.Err)
	}
	fmt.Println("selftest passed")
	return nil
}

type selftestStore struct {
	sessionLength time.Duration
}

func (s selftestStore) FetchConfig(context.Context, string, string) (dharaflow.SessionConfig, error) {
	return dharaflow.SessionConfig{
		Duration:    s.sessionLength,
		Mode:        dharaflow.ModeManual,
		InitialFlow: 30,
		InitialTemp: 40,
	}, nil
}

func (s selftestStore) UpdateStatus(_ context.Context, _, _, status string, _ *time.Time) error {
	fmt.Printf("session status -> %s\n", status)
	return nil
}

type nopPresence struct{}

func (nopPresence) Heartbeat(context.Context, string) error { return nil }

func printUsage() {
	fmt.Printf(`DharaFlow device daemon

Usage:
  dharad <command> [flags]

Commands:
  run        Start the device runtime using the provided config (default)
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live vitals
  selftest   Run a short synthetic session without hardware or brokers

Examples:
  dharad run -config ./data/config.yaml
  dharad validate -config ./data/config.yaml
  dharad stats -url http://localhost:9100/metrics -interval 1s
  dharad selftest -duration 15s
`)
}
