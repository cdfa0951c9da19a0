package shard

import (
	"context"
	"time"
)

// Run ticks the shard every TickPeriod until ctx is done or Stop is called.
// Commands stay in the inbox until the next tick drains them, so InboxSize
// bounds what can queue up between ticks and while the shard is paused.
func (s *Shard) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()

	var pending []command
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			pending = s.drain(pending[:0])
			s.step(ctx, pending)
			clear(pending)
		}
	}
}

func (s *Shard) drain(dst []command) []command {
	for {
		select {
		case c := <-s.inbox:
			dst = append(dst, c)
		default:
			return dst
		}
	}
}

func (s *Shard) Stop() { s.once.Do(func() { close(s.stop) }) }

// Pause takes effect between ticks: a tick already running completes.
func (s *Shard) Pause() { s.paused.Store(true) }

func (s *Shard) Resume() { s.paused.Store(false) }

func (s *Shard) Paused() bool { return s.paused.Load() }

// StepOnce drains queued commands and advances exactly one tick on the
// caller's goroutine. It is meant for tests and replays and must not be used
// while Run is active.
func (s *Shard) StepOnce(ctx context.Context) uint64 {
	s.step(ctx, s.drain(nil))
	return s.tick.Load()
}
