// internal/humanoid/trajectory.go
package humanoid

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// fittsTargetWidth is the assumed target width W in pixels.
	fittsTargetWidth = 30.0
	// stepsPerSecond is the cursor event rate along a trajectory.
	stepsPerSecond = 100
	maxSteps       = 250
)

// FittsDuration is the movement time MT = A + B*log2(1 + D/W) for a travel of
// distance pixels, randomized by +/- 15%.
func (h *Humanoid) FittsDuration(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/fittsTargetWidth)
	mt := h.cfg.FittsA + h.cfg.FittsB*id

	h.mu.Lock()
	mt += mt * (h.rng.Float64()*0.3 - 0.15)
	h.mu.Unlock()

	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// easeInOutCubic maps linear progress to an accelerate-then-decelerate profile.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// bezier evaluates the cubic curve p0..p3 at t.
func bezier(p0, p1, p2, p3 Vector2D, t float64) Vector2D {
	omt := 1.0 - t
	return p0.Mul(omt * omt * omt).
		Add(p1.Mul(3 * omt * omt * t)).
		Add(p2.Mul(3 * omt * t * t)).
		Add(p3.Mul(t * t * t))
}

// Path returns numSteps points on a bowed cubic bezier from start to end.
// The control points sit at a third and two thirds of the chord, pushed
// sideways by a random share of CurveSpread. The last point is always end.
func (h *Humanoid) Path(start, end Vector2D, numSteps int) []Vector2D {
	chord := end.Sub(start)
	dist := chord.Mag()
	if dist < 1.0 || numSteps <= 1 {
		return []Vector2D{end}
	}
	side := chord.Normalize().Perp()

	bow1 := h.normal(0, h.cfg.CurveSpread) * dist
	bow2 := h.normal(0, h.cfg.CurveSpread) * dist
	p1 := start.Add(chord.Mul(1.0 / 3.0)).Add(side.Mul(bow1))
	p2 := start.Add(chord.Mul(2.0 / 3.0)).Add(side.Mul(bow2))

	path := make([]Vector2D, numSteps)
	for i := range path {
		t := easeInOutCubic(float64(i) / float64(numSteps-1))
		path[i] = bezier(start, p1, p2, end, t)
	}
	path[numSteps-1] = end
	return path
}

// MoveTo moves the cursor from its current position to target along a
// jittered trajectory paced by Fitts's law.
func (h *Humanoid) MoveTo(ctx context.Context, target Vector2D) error {
	start := h.Position()
	duration := h.FittsDuration(start.Dist(target))

	numSteps := int(duration.Seconds() * stepsPerSecond)
	if numSteps < 2 {
		numSteps = 2
	}
	if numSteps > maxSteps {
		numSteps = maxSteps
	}
	path := h.Path(start, target, numSteps)
	interval := duration / time.Duration(len(path))

	for i, p := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i < len(path)-1 && h.cfg.JitterStdDev > 0 {
			p = p.Add(Vector2D{X: h.normal(0, h.cfg.JitterStdDev), Y: h.normal(0, h.cfg.JitterStdDev)})
		}
		if err := h.executor.DispatchMouseEvent(ctx, MouseEvent{Type: MouseMove, X: p.X, Y: p.Y, Button: ButtonNone}); err != nil {
			return fmt.Errorf("humanoid: mouse move to (%.0f,%.0f): %w", p.X, p.Y, err)
		}
		h.mu.Lock()
		h.pos = p
		h.mu.Unlock()

		if err := h.clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
	return nil
}
