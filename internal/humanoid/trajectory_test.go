// Filename: internal/humanoid/trajectory_test.go
package humanoid

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/config"
)

// mockExecutor records every dispatched event and typed chunk.
type mockExecutor struct {
	mu         sync.Mutex
	events     []MouseEvent
	typed      []string
	failOnCall int
	calls      int
}

func (m *mockExecutor) DispatchMouseEvent(_ context.Context, ev MouseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOnCall > 0 && m.calls >= m.failOnCall {
		return errors.New("target closed")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockExecutor) InsertText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typed = append(m.typed, text)
	return nil
}

func straightConfig() config.HumanoidConfig {
	return config.HumanoidConfig{
		Enabled:        true,
		FittsA:         200,
		FittsB:         0,
		ClickHoldMinMs: 50,
		ClickHoldMaxMs: 50,
		KeyHoldMeanMs:  60,
		KeyPauseMeanMs: 100,
	}
}

func setup(t *testing.T, cfg config.HumanoidConfig) (*Humanoid, *mockExecutor, *clock.Manual) {
	t.Helper()
	exec := &mockExecutor{}
	clk := clock.NewManual(time.Unix(0, 0))
	return New(cfg, exec, clk, rand.New(rand.NewSource(7)), zap.NewNop()), exec, clk
}

func TestFittsDuration(t *testing.T) {
	cfg := straightConfig()
	cfg.FittsA, cfg.FittsB = 100, 150
	h, _, _ := setup(t, cfg)

	for _, dist := range []float64{0, 30, 300, 3000} {
		ideal := 100 + 150*math.Log2(1+dist/30)
		for i := 0; i < 20; i++ {
			got := float64(h.FittsDuration(dist)) / float64(time.Millisecond)
			assert.GreaterOrEqual(t, got, ideal*0.85-1e-6)
			assert.LessOrEqual(t, got, ideal*1.15+1e-6)
		}
	}
}

func TestPath(t *testing.T) {
	h, _, _ := setup(t, straightConfig())

	t.Run("short travel jumps to the end", func(t *testing.T) {
		assert.Equal(t, []Vector2D{{X: 5, Y: 5}}, h.Path(Vector2D{X: 5, Y: 5.2}, Vector2D{X: 5, Y: 5}, 10))
	})

	t.Run("zero spread is a straight line", func(t *testing.T) {
		path := h.Path(Vector2D{}, Vector2D{X: 100, Y: 50}, 20)
		require.Len(t, path, 20)
		assert.Equal(t, Vector2D{X: 100, Y: 50}, path[19])
		for _, p := range path {
			assert.InDelta(t, p.X/2, p.Y, 1e-9)
		}
		for i := 1; i < len(path); i++ {
			assert.GreaterOrEqual(t, path[i].X, path[i-1].X, "progress is monotonic")
		}
	})

	t.Run("spread bows the curve but keeps endpoints", func(t *testing.T) {
		cfg := straightConfig()
		cfg.CurveSpread = 0.3
		h, _, _ := setup(t, cfg)
		path := h.Path(Vector2D{}, Vector2D{X: 200}, 30)
		assert.Equal(t, Vector2D{}, path[0])
		assert.Equal(t, Vector2D{X: 200}, path[29])
		var offLine bool
		for _, p := range path {
			if math.Abs(p.Y) > 1 {
				offLine = true
			}
		}
		assert.True(t, offLine)
	})
}

func TestMoveTo(t *testing.T) {
	cfg := straightConfig()
	cfg.JitterStdDev = 2
	h, exec, clk := setup(t, cfg)
	target := Vector2D{X: 400, Y: 300}

	require.NoError(t, h.MoveTo(context.Background(), target))

	require.NotEmpty(t, exec.events)
	last := exec.events[len(exec.events)-1]
	assert.Equal(t, MouseMove, last.Type)
	assert.Equal(t, target, Vector2D{X: last.X, Y: last.Y}, "the final point is exact")
	assert.Equal(t, target, h.Position())
	assert.Len(t, clk.Sleeps(), len(exec.events))

	var total time.Duration
	for _, d := range clk.Sleeps() {
		total += d
	}
	assert.InDelta(t, 200*time.Millisecond, total, float64(40*time.Millisecond))
}

func TestMoveToErrors(t *testing.T) {
	t.Run("dispatch failure", func(t *testing.T) {
		h, exec, _ := setup(t, straightConfig())
		exec.failOnCall = 3
		err := h.MoveTo(context.Background(), Vector2D{X: 500})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target closed")
		assert.Len(t, exec.events, 2)
	})

	t.Run("canceled context", func(t *testing.T) {
		h, exec, _ := setup(t, straightConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, h.MoveTo(ctx, Vector2D{X: 500}), context.Canceled)
		assert.Empty(t, exec.events)
	})
}

func TestClick(t *testing.T) {
	h, exec, clk := setup(t, straightConfig())
	target := Vector2D{X: 120, Y: 80}

	require.NoError(t, h.Click(context.Background(), target))

	n := len(exec.events)
	require.GreaterOrEqual(t, n, 4)
	press, release := exec.events[n-2], exec.events[n-1]
	assert.Equal(t, MouseEvent{Type: MousePress, X: 120, Y: 80, Button: ButtonLeft, ClickCount: 1, Buttons: 1}, press)
	assert.Equal(t, MouseEvent{Type: MouseRelease, X: 120, Y: 80, Button: ButtonLeft, ClickCount: 1}, release)

	sleeps := clk.Sleeps()
	assert.Equal(t, 50*time.Millisecond, sleeps[len(sleeps)-1], "hold between press and release")
}

func TestType(t *testing.T) {
	h, exec, clk := setup(t, straightConfig())

	require.NoError(t, h.Type(context.Background(), "the"))

	assert.Equal(t, []string{"t", "h", "e"}, exec.typed)
	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 5)
	hold := 60 * time.Millisecond
	assert.Equal(t, hold, sleeps[0])
	assert.InDelta(t, 70*time.Millisecond, sleeps[1], float64(time.Microsecond), "digram 'th' is quicker")
	assert.Equal(t, hold, sleeps[2])
	assert.InDelta(t, 55*time.Millisecond, sleeps[3], float64(time.Microsecond), "trigram 'the' is quicker still")
	assert.Equal(t, hold, sleeps[4])
}

func TestVector(t *testing.T) {
	v := Vector2D{X: 3, Y: 4}
	assert.Equal(t, 5.0, v.Mag())
	n := v.Normalize()
	assert.InDelta(t, 0.6, n.X, 1e-12)
	assert.InDelta(t, 0.8, n.Y, 1e-12)
	assert.Equal(t, Vector2D{}, Vector2D{}.Normalize())
	assert.Equal(t, Vector2D{X: -4, Y: 3}, v.Perp())
	assert.Equal(t, 5.0, Vector2D{}.Dist(v))
}
