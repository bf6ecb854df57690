// Package redisstore backs the command channel, session documents and
// device presence with the clinic's Redis.
//
// Key layout under the configured namespace:
//
//	<ns>:devices:<device>:commands        command stream (consumer group "device")
//	<ns>:devices:<device>:commands:<id>   ack hash, 24 h TTL
//	<ns>:devices:<device>                 presence hash, refreshed with a TTL
//	<ns>:patients:<patient>:sessions:<id> session document, JSON string
//	  …:state                             status hash written by the device
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dharaflow/internal/domain"
	"dharaflow/internal/ports"
)

const commandGroup = "device"

type Store struct {
	client   *redis.Client
	ns       string
	deviceID string
	ttl      time.Duration
	defaults domain.SessionConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(addr, password string, db int, ns, deviceID string, presenceTTL time.Duration, defaults domain.SessionConfig) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{
		client:   client,
		ns:       ns,
		deviceID: deviceID,
		ttl:      presenceTTL,
		defaults: defaults,
	}
}

func (s *Store) Close() error { return s.client.Close() }

// ---- CommandSource ----

func (s *Store) Start(out chan<- domain.Command) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("redis command source already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	err := s.client.XGroupCreateMkStream(ctx, s.streamKey(), commandGroup, "0").Err()
	if err != nil && !isBusyGroup(err) {
		cancel()
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("redis create group: %w", err)
	}

	s.wg.Add(1)
	go s.consume(ctx, out)
	return nil
}

func (s *Store) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return nil
}

func (s *Store) Ack(ctx context.Context, id string, res domain.AckResult) error {
	fields := map[string]any{
		"ack":          "true",
		"processed_at": res.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
	if res.Err != "" {
		fields["error"] = res.Err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.ackKey(id), fields)
	pipe.Expire(ctx, s.ackKey(id), 24*time.Hour)
	pipe.XAck(ctx, s.streamKey(), commandGroup, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ack %s: %w", id, err)
	}
	return nil
}

func (s *Store) consume(ctx context.Context, out chan<- domain.Command) {
	defer s.wg.Done()

	// entries delivered to us before a restart but never acked come first;
	// the cursor walks the pending list until it is drained
	cursor := "0"
	for ctx.Err() == nil {
		seen, last := s.deliverBatch(ctx, out, cursor, -1)
		if seen == 0 {
			break
		}
		cursor = last
	}

	for ctx.Err() == nil {
		s.deliverBatch(ctx, out, ">", 2*time.Second)
	}
}

func (s *Store) deliverBatch(ctx context.Context, out chan<- domain.Command, cursor string, block time.Duration) (seen int, lastID string) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    commandGroup,
		Consumer: s.deviceID,
		Streams:  []string{s.streamKey(), cursor},
		Count:    16,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return 0, ""
		}
		log.Printf("redisstore: read commands: %v", err)
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return 0, ""
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			seen++
			lastID = msg.ID
			cmd, ok := parseCommand(msg)
			if !ok {
				// malformed entries would otherwise be redelivered forever
				if err := s.client.XAck(ctx, s.streamKey(), commandGroup, msg.ID).Err(); err != nil {
					log.Printf("redisstore: ack malformed %s: %v", msg.ID, err)
				}
				continue
			}
			select {
			case <-ctx.Done():
				return seen, lastID
			case out <- cmd:
			}
		}
	}
	return seen, lastID
}

func parseCommand(msg redis.XMessage) (domain.Command, bool) {
	name, _ := msg.Values["name"].(string)
	if name == "" {
		return domain.Command{}, false
	}
	cmd := domain.Command{ID: msg.ID, Name: name}
	if raw, ok := msg.Values["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &cmd.Payload); err != nil {
			return domain.Command{}, false
		}
	}
	// a missing or unparseable issue time stays zero; the processor skips
	// the staleness check for commands without one
	if ts, ok := msg.Values["issued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			cmd.IssuedAt = t
		}
	}
	return cmd, true
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// ---- SessionStore ----

type sessionDoc struct {
	Settings struct {
		Duration    float64 `json:"duration"` // minutes
		Mode        string  `json:"mode"`
		FlowRate    float64 `json:"flowRate"`
		Temperature float64 `json:"temperature"`
	} `json:"settings"`
}

func (s *Store) FetchConfig(ctx context.Context, patientID, sessionID string) (domain.SessionConfig, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(patientID, sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SessionConfig{}, fmt.Errorf("session document %s/%s not found", patientID, sessionID)
		}
		return domain.SessionConfig{}, fmt.Errorf("redis get session: %w", err)
	}

	var doc sessionDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.SessionConfig{}, fmt.Errorf("decode session document: %w", err)
	}

	cfg := s.defaults
	if doc.Settings.Duration > 0 {
		cfg.Duration = time.Duration(doc.Settings.Duration * float64(time.Minute))
	}
	if m, ok := domain.ParseMode(doc.Settings.Mode); ok {
		cfg.Mode = m
	}
	if doc.Settings.FlowRate > 0 {
		cfg.InitialFlow = doc.Settings.FlowRate
	}
	if doc.Settings.Temperature > 0 {
		cfg.InitialTemp = doc.Settings.Temperature
	}
	return cfg, nil
}

func (s *Store) UpdateStatus(ctx context.Context, patientID, sessionID, status string, endedAt *time.Time) error {
	fields := map[string]any{"status": status}
	if endedAt != nil {
		fields["end_ts"] = endedAt.UTC().Format(time.RFC3339Nano)
	}
	key := s.sessionKey(patientID, sessionID) + ":state"
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis update status: %w", err)
	}
	return nil
}

// ---- Presence ----

func (s *Store) Heartbeat(ctx context.Context, deviceID string) error {
	key := s.deviceKey(deviceID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"online":    "true",
		"last_seen": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis heartbeat: %w", err)
	}
	return nil
}

func (s *Store) streamKey() string {
	return fmt.Sprintf("%s:devices:%s:commands", s.ns, s.deviceID)
}

func (s *Store) ackKey(id string) string {
	return fmt.Sprintf("%s:devices:%s:commands:%s", s.ns, s.deviceID, id)
}

func (s *Store) deviceKey(deviceID string) string {
	return fmt.Sprintf("%s:devices:%s", s.ns, deviceID)
}

func (s *Store) sessionKey(patientID, sessionID string) string {
	return fmt.Sprintf("%s:patients:%s:sessions:%s", s.ns, patientID, sessionID)
}

var (
	_ ports.CommandSource = (*Store)(nil)
	_ ports.SessionStore  = (*Store)(nil)
	_ ports.Presence      = (*Store)(nil)
)
