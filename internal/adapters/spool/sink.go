package spool

import (
	"context"
	"errors"
	"fmt"
	"log"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

// maxReplayPerDrain bounds how much backlog one publish tick may flush so
// a recovered link never stalls the telemetry loop.
const maxReplayPerDrain = 32

var errReplayQuota = errors.New("replay quota reached")

// Sink decorates a telemetry sink with the spool: failed publishes are
// preserved on disk, and each successful publish opportunistically replays
// part of the backlog. Publish returns an error only when a record ended
// up neither delivered nor spooled, so callers can treat any error as a
// real loss.
type Sink struct {
	inner ports.TelemetrySink
	file  *File
}

func Wrap(inner ports.TelemetrySink, file *File) *Sink {
	return &Sink{inner: inner, file: file}
}

func (s *Sink) Name() string { return s.inner.Name() + "+spool" }

func (s *Sink) Publish(ctx context.Context, rec domain.TelemetryRecord) error {
	if err := s.inner.Publish(ctx, rec); err != nil {
		id, aerr := s.file.Append(rec)
		if aerr != nil {
			return errors.Join(err, fmt.Errorf("spool append: %w", aerr))
		}
		log.Printf("spool: %s publish failed, record %s spooled as entry %d: %v", s.inner.Name(), rec.ID, id, err)
		return nil
	}
	s.drain(ctx)
	return nil
}

func (s *Sink) drain(ctx context.Context) {
	var lastOK entryID
	n := 0
	// replay stops at the first failed publish or once the quota is spent;
	// whatever remains is picked up on a later drain
	_ = s.file.Replay(func(id entryID, rec domain.TelemetryRecord) error {
		if n >= maxReplayPerDrain {
			return errReplayQuota
		}
		if err := s.inner.Publish(ctx, rec); err != nil {
			return err
		}
		lastOK = id
		n++
		return nil
	})
	if lastOK > 0 {
		if cerr := s.file.CommitThrough(lastOK); cerr != nil {
			log.Printf("spool: commit through %d: %v", lastOK, cerr)
		}
	}
}

var _ ports.TelemetrySink = (*Sink)(nil)
