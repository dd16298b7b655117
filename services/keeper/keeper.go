package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	nativecommon "phusd/native/common"
	"phusd/native/yield"
	"phusd/observability"
)

// Accumulator is the slice of the yield engine the keeper drives.
type Accumulator interface {
	CalculateClaimAmount() (*big.Int, error)
	Claim(caller [20]byte) (*yield.ClaimResult, error)
}

// Keeper polls the accumulator and settles claims once the projected payout
// crosses the configured threshold. Every attempt, settled or not, lands in
// the settlement history.
type Keeper struct {
	accumulator Accumulator
	store       *Store
	claimer     [20]byte
	claimerStr  string
	threshold   *big.Int
	interval    time.Duration
	logger      *slog.Logger
	metrics     *observability.KeeperMetrics
}

// New wires a keeper from its validated configuration.
func New(cfg *Config, accumulator Accumulator, store *Store, logger *slog.Logger) (*Keeper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("keeper: nil config")
	}
	if accumulator == nil {
		return nil, fmt.Errorf("keeper: nil accumulator")
	}
	if store == nil {
		return nil, fmt.Errorf("keeper: nil store")
	}
	claimer, err := cfg.ClaimerAddress()
	if err != nil {
		return nil, fmt.Errorf("keeper: claimer address: %w", err)
	}
	threshold, err := cfg.ThresholdAmount()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		accumulator: accumulator,
		store:       store,
		claimer:     claimer,
		claimerStr:  cfg.Claimer,
		threshold:   threshold,
		interval:    cfg.PollInterval.Duration,
		logger:      logger,
		metrics:     observability.Keeper(),
	}, nil
}

// Run polls until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.logger.Info("keeper started",
		slog.String("claimer", k.claimerStr),
		slog.String("threshold", k.threshold.String()),
		slog.Duration("interval", k.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := k.Tick(); err != nil {
				k.logger.Error("keeper tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick performs one poll-and-maybe-settle cycle.
func (k *Keeper) Tick() error {
	projected, err := k.accumulator.CalculateClaimAmount()
	if err != nil {
		if errors.Is(err, nativecommon.ErrModulePaused) {
			k.metrics.RecordAttempt("paused")
			k.logger.Warn("yield module paused, skipping poll")
			return nil
		}
		k.metrics.RecordError("projection")
		return fmt.Errorf("keeper: project claim: %w", err)
	}
	k.metrics.SetProjection(projected)

	if projected.Cmp(k.threshold) < 0 {
		k.metrics.RecordAttempt("below_threshold")
		k.logger.Debug("projection below threshold",
			slog.String("projected", projected.String()),
			slog.String("threshold", k.threshold.String()))
		return nil
	}

	intent, err := k.store.CreateIntent(k.claimerStr, projected)
	if err != nil {
		k.metrics.RecordError("intent")
		return err
	}

	result, err := k.accumulator.Claim(k.claimer)
	if err != nil {
		k.metrics.RecordAttempt("failed")
		k.metrics.RecordError("claim")
		if markErr := k.store.MarkFailed(intent.ID, err.Error()); markErr != nil {
			k.logger.Error("record claim failure", slog.String("error", markErr.Error()))
		}
		if errors.Is(err, yield.ErrNoYield) {
			// The yield drained between projection and settlement.
			k.logger.Info("claim raced to empty", slog.String("intent", intent.ID.String()))
			return nil
		}
		return fmt.Errorf("keeper: settle claim: %w", err)
	}

	if err := k.store.MarkSettled(intent.ID, result.Paid, result.TotalYield, result.StrategyCount); err != nil {
		k.metrics.RecordError("record")
		return err
	}
	k.metrics.RecordAttempt("settled")
	k.metrics.RecordPaid(result.Paid)
	k.logger.Info("claim settled",
		slog.String("intent", intent.ID.String()),
		slog.String("paid", result.Paid.String()),
		slog.Int("strategies", result.StrategyCount))
	return nil
}
