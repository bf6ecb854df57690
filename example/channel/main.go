package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"dharaflow"
)

func main() {
	cfg, err := dharaflow.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sink, records, closeRecords := dharaflow.NewChannelSink("ward", 32)
	defer closeRecords()

	go wardWorker(records)

	rt, err := dharaflow.NewRuntime(cfg, dharaflow.WithTelemetrySink(sink))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func wardWorker(records <-chan dharaflow.TelemetryRecord) {
	for rec := range records {
		fmt.Printf("[ward] record %s for patient %s at %s\n",
			rec.ID, rec.PatientID, time.Now().Format(time.RFC3339))
		// TODO: forward to the ward dashboard feed.
	}
}
