// Package keeper periodically resolves markets whose deadline has passed.
package keeper

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperpredict/pkg/app/core/errs"
	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
)

// DefaultSchedule runs a sweep every 15 seconds
const DefaultSchedule = "*/15 * * * * *"

// Resolver is the slice of the engine the keeper drives
type Resolver interface {
	DueMarkets() []string
	ResolveMarket(ctx context.Context, marketID string) (*predict.Resolution, error)
}

// Keeper runs resolution sweeps on a cron schedule (seconds field enabled)
type Keeper struct {
	cron     *cron.Cron
	resolver Resolver
	log      *zap.SugaredLogger
	baseCtx  context.Context
}

func New(baseCtx context.Context, resolver Resolver, logger *zap.SugaredLogger) *Keeper {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Keeper{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		resolver: resolver,
		log:      logger,
		baseCtx:  baseCtx,
	}
}

// Schedule registers the sweep; an empty expression uses DefaultSchedule
func (k *Keeper) Schedule(expr string) (cron.EntryID, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	return k.cron.AddFunc(expr, func() { k.Sweep(k.baseCtx) })
}

func (k *Keeper) Start() {
	k.log.Infow("keeper_started", "entries", len(k.cron.Entries()))
	k.cron.Start()
}

// Stop waits for a running sweep to finish
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.log.Info("keeper_stopped")
}

// Sweep tries to resolve every due market once and returns how many left PendingResolution
func (k *Keeper) Sweep(ctx context.Context) int {
	done := 0
	for _, id := range k.resolver.DueMarkets() {
		if ctx.Err() != nil {
			return done
		}
		res, err := k.resolver.ResolveMarket(ctx, id)
		switch {
		case err == nil:
			done++
			k.log.Infow("keeper_resolved", "market", id, "state", res.State.String(), "outcome", res.Outcome.String())
		case errors.Is(err, errs.ErrOracleNotReady), errors.Is(err, errs.ErrMarketBusy):
			k.log.Debugw("keeper_deferred", "market", id, "err", err)
		default:
			k.log.Warnw("keeper_resolve_failed", "market", id, "kind", errs.KindOf(err).String(), "err", err)
		}
	}
	return done
}
