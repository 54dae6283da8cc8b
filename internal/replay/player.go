package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbd888/callwatch/internal/transcript"
)

// DefaultCadence is the gap between turns when none is configured.
const DefaultCadence = 900 * time.Millisecond

// ErrStopped is returned by Run after Stop.
var ErrStopped = errors.New("replay stopped")

// Sink receives replayed turns in order.
type Sink interface {
	Submit(ctx context.Context, turn transcript.Turn) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, turn transcript.Turn) error

func (f SinkFunc) Submit(ctx context.Context, turn transcript.Turn) error { return f(ctx, turn) }

// Player delivers a transcript to a Sink one turn per tick. A turn is
// delivered at most once: pausing holds the cursor and resuming continues
// from it.
type Player struct {
	turns   []transcript.Turn
	sink    Sink
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	cursor  int
	paused  bool
	resumed chan struct{}
	stop    chan struct{}
	stopped bool
	running bool
}

// NewPlayer creates a player for turns. A cadence of zero or less uses
// DefaultCadence.
func NewPlayer(turns []transcript.Turn, sink Sink, cadence time.Duration, logger *slog.Logger) *Player {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		turns:   append([]transcript.Turn(nil), turns...),
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(cadence), 1),
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// WithSpeed scales the cadence; 2 plays twice as fast.
func (p *Player) WithSpeed(factor float64) *Player {
	if factor > 0 {
		p.limiter.SetLimit(p.limiter.Limit() * rate.Limit(factor))
	}
	return p
}

// Unpaced removes the delay between turns.
func (p *Player) Unpaced() *Player {
	p.limiter.SetLimit(rate.Inf)
	return p
}

// Run delivers the remaining turns and returns when the transcript is
// exhausted, ctx is done, Stop is called or the sink fails. On a sink error
// the cursor stays on the failed turn.
func (p *Player) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("replay already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		turn, ok, err := p.next(ctx)
		if err != nil {
			return p.cause(ctx, err)
		}
		if !ok {
			p.logger.Info("replay finished", "turns", len(p.turns))
			return nil
		}

		if err := p.sink.Submit(ctx, turn); err != nil {
			if ctx.Err() != nil {
				return p.cause(ctx, ctx.Err())
			}
			p.logger.Warn("replay turn rejected", "turn", turn.TurnNumber, "error", err)
			return fmt.Errorf("turn %d: %w", turn.TurnNumber, err)
		}

		p.mu.Lock()
		p.cursor++
		p.mu.Unlock()
		p.logger.Debug("replayed turn", "turn", turn.TurnNumber)
	}
}

// next waits for the next tick while not paused and returns the turn under
// the cursor. ok is false once every turn has been delivered.
func (p *Player) next(ctx context.Context) (transcript.Turn, bool, error) {
	for {
		if err := p.waitResumed(ctx); err != nil {
			return transcript.Turn{}, false, err
		}

		p.mu.Lock()
		done := p.cursor >= len(p.turns)
		p.mu.Unlock()
		if done {
			return transcript.Turn{}, false, nil
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return transcript.Turn{}, false, err
		}

		p.mu.Lock()
		if p.paused {
			p.mu.Unlock()
			continue
		}
		turn := p.turns[p.cursor]
		p.mu.Unlock()
		return turn, true, nil
	}
}

func (p *Player) waitResumed(ctx context.Context) error {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	ch := p.resumed
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) cause(ctx context.Context, err error) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Pause holds delivery after the turn in flight, if any.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.resumed = make(chan struct{})
}

// Resume continues delivery from the cursor.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.resumed)
}

// Toggle pauses a running replay or resumes a paused one.
func (p *Player) Toggle() {
	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()
	if paused {
		p.Resume()
	} else {
		p.Pause()
	}
}

// Stop ends the replay. It is safe to call more than once.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
}

// Paused reports whether delivery is on hold.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Position returns how many turns have been delivered.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Remaining returns how many turns are left.
func (p *Player) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.turns) - p.cursor
}
