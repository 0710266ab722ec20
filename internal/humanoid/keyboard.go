// internal/humanoid/keyboard.go
package humanoid

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Common English n-grams are typed faster than arbitrary pairs.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true,
}

const (
	minKeyHold  = 20.0
	minKeyPause = 30.0
)

// Type enters text one character at a time into the focused element with
// randomized flight and hold times. It never introduces typos; replayed
// text must match what was recorded.
func (h *Humanoid) Type(ctx context.Context, text string) error {
	runes := []rune(text)
	for i, r := range runes {
		if i > 0 {
			if err := h.clock.Sleep(ctx, h.keyPause(runes, i)); err != nil {
				return err
			}
		}
		if err := h.executor.InsertText(ctx, string(r)); err != nil {
			return fmt.Errorf("humanoid: failed to send key %q: %w", r, err)
		}
		if err := h.clock.Sleep(ctx, h.keyHold()); err != nil {
			return err
		}
	}
	h.logger.Debug("Typed text.", zap.Int("runes", len(runes)))
	return nil
}

func (h *Humanoid) keyHold() time.Duration {
	ms := math.Max(minKeyHold, h.normal(h.cfg.KeyHoldMeanMs, h.cfg.KeyHoldStdDevMs))
	return time.Duration(ms * float64(time.Millisecond))
}

// keyPause is the flight time before runes[i].
func (h *Humanoid) keyPause(runes []rune, i int) time.Duration {
	factor := 1.0
	if i >= 2 && commonNgrams[strings.ToLower(string(runes[i-2:i+1]))] {
		factor = 0.55
	} else if commonNgrams[strings.ToLower(string(runes[i-1:i+1]))] {
		factor = 0.7
	}
	mean := h.cfg.KeyPauseMeanMs * factor
	ms := math.Max(minKeyPause*factor, h.normal(mean, h.cfg.KeyPauseStdDev))
	return time.Duration(ms * float64(time.Millisecond))
}
