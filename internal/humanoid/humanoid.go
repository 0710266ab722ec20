// internal/humanoid/humanoid.go
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/config"
)

// Humanoid produces human-like pointer and keyboard input over an Executor.
// It tracks the cursor position between calls so consecutive movements
// start where the previous one ended.
type Humanoid struct {
	cfg      config.HumanoidConfig
	executor Executor
	clock    clock.Clock
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
	pos Vector2D
}

// New creates a Humanoid. A nil rng seeds one from the wall clock.
func New(cfg config.HumanoidConfig, exec Executor, clk clock.Clock, rng *rand.Rand, logger *zap.Logger) *Humanoid {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Humanoid{
		cfg:      cfg,
		executor: exec,
		clock:    clk,
		logger:   logger.Named("humanoid"),
		rng:      rng,
	}
}

// Position returns the last known cursor position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Click moves to target, then presses and releases the left button with a
// randomized hold.
func (h *Humanoid) Click(ctx context.Context, target Vector2D) error {
	if err := h.MoveTo(ctx, target); err != nil {
		return err
	}
	pos := h.Position()

	press := MouseEvent{Type: MousePress, X: pos.X, Y: pos.Y, Button: ButtonLeft, ClickCount: 1, Buttons: 1}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return fmt.Errorf("humanoid: mouse press at (%.0f,%.0f): %w", pos.X, pos.Y, err)
	}
	if err := h.clock.Sleep(ctx, h.clickHold()); err != nil {
		return err
	}
	release := MouseEvent{Type: MouseRelease, X: pos.X, Y: pos.Y, Button: ButtonLeft, ClickCount: 1}
	if err := h.executor.DispatchMouseEvent(ctx, release); err != nil {
		return fmt.Errorf("humanoid: mouse release at (%.0f,%.0f): %w", pos.X, pos.Y, err)
	}
	return nil
}

func (h *Humanoid) clickHold() time.Duration {
	lo, hi := h.cfg.ClickHoldMinMs, h.cfg.ClickHoldMaxMs
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	h.mu.Lock()
	n := h.rng.Intn(hi - lo + 1)
	h.mu.Unlock()
	return time.Duration(lo+n) * time.Millisecond
}

func (h *Humanoid) normal(mean, stdDev float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return mean + h.rng.NormFloat64()*stdDev
}
