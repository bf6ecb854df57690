package dharaflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCommanderClosed is returned by Submit once the commander has been
// stopped.
var ErrCommanderClosed = errors.New("dharaflow: local commander closed")

// LocalCommander is an in-process CommandSource for embedding the device
// stack without an external command channel. Wire it into a Runtime with
// WithCommandSource, then drive the engine through Submit.
type LocalCommander struct {
	mu      sync.Mutex
	out     chan<- Command
	waiters map[string]chan AckResult
	closed  bool
}

func NewLocalCommander() *LocalCommander {
	return &LocalCommander{waiters: make(map[string]chan AckResult)}
}

// Start is called by the engine during startup.
func (c *LocalCommander) Start(out chan<- Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCommanderClosed
	}
	c.out = out
	return nil
}

// Stop releases every waiting Submit call. The commander cannot be
// restarted afterwards.
func (c *LocalCommander) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.out = nil
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
	return nil
}

// Ack resolves the Submit call waiting on the command id. Acks for unknown
// ids are dropped.
func (c *LocalCommander) Ack(_ context.Context, id string, res AckResult) error {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- res
	}
	return nil
}

// Submit delivers one command to the engine and blocks until its ack
// arrives. An empty ID is filled with a fresh UUID and a zero IssuedAt
// with the current time.
func (c *LocalCommander) Submit(ctx context.Context, cmd Command) (AckResult, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	c.mu.Lock()
	if c.closed || c.out == nil {
		c.mu.Unlock()
		return AckResult{}, ErrCommanderClosed
	}
	if _, dup := c.waiters[cmd.ID]; dup {
		c.mu.Unlock()
		return AckResult{}, fmt.Errorf("command %s already in flight", cmd.ID)
	}
	ch := make(chan AckResult, 1)
	c.waiters[cmd.ID] = ch
	out := c.out
	c.mu.Unlock()

	select {
	case out <- cmd:
	case <-ctx.Done():
		c.forget(cmd.ID)
		return AckResult{}, ctx.Err()
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return AckResult{}, ErrCommanderClosed
		}
		return res, nil
	case <-ctx.Done():
		c.forget(cmd.ID)
		return AckResult{}, ctx.Err()
	}
}

func (c *LocalCommander) forget(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

var _ CommandSource = (*LocalCommander)(nil)
