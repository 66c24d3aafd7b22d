package broadcast

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

// Delay is the anti-blocking pause after a send. The base is DelayMs, or a
// uniform draw from [MinDelayMs, MaxDelayMs] when that range is set.
// RotationCooldownMs is added when the send switched accounts, and the sum
// gets ±JitterPercent multiplicative jitter.
func Delay(cfg model.AntiBlockingConfig, rotated bool, rng *rand.Rand) time.Duration {
	base := float64(cfg.DelayMs)
	if cfg.MaxDelayMs > cfg.MinDelayMs {
		base = float64(cfg.MinDelayMs) + rng.Float64()*float64(cfg.MaxDelayMs-cfg.MinDelayMs)
	}
	if rotated {
		base += float64(cfg.RotationCooldownMs)
	}
	if cfg.JitterPercent > 0 {
		j := float64(cfg.JitterPercent) / 100
		base *= 1 + (rng.Float64()*2-1)*j
	}
	if base < 0 {
		return 0
	}
	return time.Duration(base * float64(time.Millisecond))
}

// TypingPause is the cosmetic wait before a send, or zero when disabled.
func TypingPause(cfg model.AntiBlockingConfig, rng *rand.Rand) time.Duration {
	if !cfg.TypingSimulation || cfg.TypingMaxMs <= 0 {
		return 0
	}
	ms := cfg.TypingMinMs
	if cfg.TypingMaxMs > cfg.TypingMinMs {
		ms += rng.IntN(cfg.TypingMaxMs - cfg.TypingMinMs + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

// InSendWindow reports whether now falls inside the configured business
// hours and outside excluded weekends. An unknown timezone falls back to UTC.
func InSendWindow(cfg model.AntiBlockingConfig, now time.Time) bool {
	if !cfg.BusinessHoursOnly && !cfg.ExcludeWeekends {
		return true
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	if cfg.ExcludeWeekends {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	if cfg.BusinessHoursOnly && cfg.BusinessStartHour != cfg.BusinessEndHour {
		h := local.Hour()
		if cfg.BusinessStartHour < cfg.BusinessEndHour {
			return h >= cfg.BusinessStartHour && h < cfg.BusinessEndHour
		}
		// overnight window such as 22-6
		return h >= cfg.BusinessStartHour || h < cfg.BusinessEndHour
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
