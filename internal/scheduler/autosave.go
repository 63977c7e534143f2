// Package scheduler drives the periodic auto-save flush.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/lenshed/durastore/internal/logger"
)

// Flusher is the slice of the queue executor the auto-saver needs.
type Flusher interface {
	FlushPending(ctx context.Context, trigger string) (bool, error)
	Pending() int
}

// AutoSaver triggers a batch flush on a fixed interval whenever operations
// are pending. Flush failures are handled by the queue's retry policy; a
// tick never propagates a panic or error.
type AutoSaver struct {
	flusher  Flusher
	interval time.Duration
	log      logger.Logger
}

// NewAutoSaver creates an auto-save scheduler
func NewAutoSaver(flusher Flusher, interval time.Duration, log logger.Logger) *AutoSaver {
	return &AutoSaver{flusher: flusher, interval: interval, log: log}
}

// Run ticks until the context is cancelled.
func (s *AutoSaver) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *AutoSaver) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Auto-save tick panicked", logger.Error(fmt.Errorf("%v", r)))
		}
	}()

	if s.flusher.Pending() == 0 {
		return
	}

	flushed, err := s.flusher.FlushPending(ctx, "autosave")
	if err != nil {
		s.log.Warn("Auto-save flush interrupted", logger.Error(err))
		return
	}
	if !flushed {
		s.log.Debug("Auto-save skipped, flush already in progress")
	}
}
