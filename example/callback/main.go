package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"dharaflow/pkg/dharaflow"
)

func main() {
	cfg, err := dharaflow.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	commander := dharaflow.NewLocalCommander()

	vitals := dharaflow.NewCallbackSink("stdout", func(rec dharaflow.TelemetryRecord) error {
		pulse := "-"
		if rec.Pulse != nil {
			pulse = fmt.Sprintf("%.1f", *rec.Pulse)
		}
		fmt.Printf("%s pulse=%s spo2=%.0f flow=%.1f temp=%.1f\n",
			rec.Timestamp.Format(time.RFC3339),
			pulse,
			rec.SpO2,
			rec.FlowState,
			rec.Temperature,
		)
		return nil
	})
	alerts := dharaflow.NewCallbackAlerts(func(a dharaflow.Alert) error {
		fmt.Printf("ALERT %s: %s (%.1f)\n", a.Level, a.Message, a.Value)
		return nil
	})

	rt, err := dharaflow.NewRuntime(cfg,
		dharaflow.WithCommandSource(commander),
		dharaflow.WithTelemetrySink(vitals),
		dharaflow.WithAlertSink(alerts),
	)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := commander.Submit(ctx, dharaflow.Command{
		Name:    dharaflow.CmdStartSession,
		Payload: map[string]any{"patientId": "demo-patient", "sessionId": "demo-session"},
	})
	if err != nil {
		log.Fatalf("start session: %v", err)
	}
	if res.Err != "" {
		log.Fatalf("session rejected: %s", res.Err)
	}

	<-ctx.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	if res, err := commander.Submit(stopCtx, dharaflow.Command{Name: dharaflow.CmdStopSession}); err != nil {
		log.Printf("stop session: %v", err)
	} else if res.Err != "" {
		log.Printf("stop rejected: %s", res.Err)
	}
	if err := rt.Shutdown(stopCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
