package registry

import (
	"context"
	"time"
)

// pacer enforces a minimum gap between sequential calls by blocking.
type pacer struct {
	delay time.Duration
	last  time.Time
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newPacer(delay time.Duration) *pacer {
	return &pacer{delay: delay, now: time.Now, sleep: sleepCtx}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.delay > 0 && !p.last.IsZero() {
		if gap := p.delay - p.now().Sub(p.last); gap > 0 {
			if err := p.sleep(ctx, gap); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
