package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RentalSweeper marks lapsed rentals as expired.
type RentalSweeper interface {
	ExpireRentals(ctx context.Context, now time.Time) (int64, error)
}

// RentalExpirer periodically expires rentals whose end time has passed, so
// rentals that nobody lists still change state.
type RentalExpirer struct {
	logger   *zap.Logger
	sweeper  RentalSweeper
	interval time.Duration
	now      func() time.Time
}

func NewRentalExpirer(logger *zap.Logger, sweeper RentalSweeper, interval time.Duration) *RentalExpirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &RentalExpirer{
		logger:   logger,
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
	}
}

// Sweep runs one expiry pass and returns the number of rentals expired.
func (re *RentalExpirer) Sweep(ctx context.Context) int64 {
	n, err := re.sweeper.ExpireRentals(ctx, re.now().UTC())
	if err != nil {
		re.logger.Warn("failed to expire rentals", zap.Error(err))
		return 0
	}
	if n > 0 {
		re.logger.Info("expired rentals", zap.Int64("count", n))
	}
	return n
}

// Run sweeps once at start and then on every tick until ctx is done.
func (re *RentalExpirer) Run(ctx context.Context) {
	ticker := time.NewTicker(re.interval)
	defer ticker.Stop()

	re.logger.Info("rental expirer started", zap.Duration("interval", re.interval))
	re.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			re.logger.Info("rental expirer stopped")
			return
		case <-ticker.C:
			re.Sweep(ctx)
		}
	}
}
