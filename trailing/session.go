package trailing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raykavin/trailbot/core"
	"github.com/raykavin/trailbot/logger"
)

const (
	// Fills older than this are never re-examined.
	fillLookback = 7 * 24 * time.Hour

	// Rate-limit spacing between pairs inside one session.
	defaultPairDelay = time.Second
)

// Scheduler drives one sampling session per interval across all configured
// pairs. It is deliberately single-threaded: only this loop mutates the
// trailing-state document.
type Scheduler struct {
	engine    *Engine
	exchange  core.Exchange
	store     core.StateStore
	pairs     []core.Pair
	interval  time.Duration
	pause     *PauseFlag
	log       logger.Logger
	pairDelay time.Duration
}

// NewScheduler wires the session loop.
func NewScheduler(
	engine *Engine,
	exchange core.Exchange,
	store core.StateStore,
	pairs []core.Pair,
	interval time.Duration,
	pause *PauseFlag,
	log logger.Logger,
) *Scheduler {
	return &Scheduler{
		engine:    engine,
		exchange:  exchange,
		store:     store,
		pairs:     pairs,
		interval:  interval,
		pause:     pause,
		log:       log,
		pairDelay: defaultPairDelay,
	}
}

// Run executes sessions until the context is cancelled. Cancellation is
// honored between pairs, so the in-flight pair always finishes cleanly.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if s.pause.Paused() {
			s.log.Info("bot paused, skipping session")
		} else {
			s.runSession(ctx)
		}

		if !s.sleep(ctx, s.interval) {
			s.log.Info("trading loop stopped")
			return nil
		}
	}
}

// runSession performs one full pass: load state, fetch balance, fetch the
// closed-fills window, walk every pair, persist state.
func (s *Scheduler) runSession(ctx context.Context) {
	s.log.Info("======== starting session ========")

	state, err := s.store.Load()
	if err != nil {
		s.log.WithError(err).Error("state load failed, starting from empty state")
	}

	balance, err := s.exchange.Balance(ctx)
	if err != nil {
		s.log.WithError(err).Error("balance unavailable, skipping session")
		return
	}

	now := time.Now()
	fills, err := s.exchange.ClosedOrdersBetween(ctx, now.Add(-fillLookback), now.Add(-2*s.interval))
	if err != nil {
		s.log.WithError(err).Warn("closed orders unavailable, ingesting nothing this session")
		fills = nil
	}

	for i, pair := range s.pairs {
		if ctx.Err() != nil {
			break
		}

		s.runPair(ctx, pair, state, fills, balance)

		if i < len(s.pairs)-1 && !s.sleep(ctx, s.pairDelay) {
			break
		}
	}

	if err := s.store.Save(state); err != nil {
		s.log.WithError(err).Error("state save failed, next session recovers from last persisted state")
	}

	s.log.Infof("session complete, %d open positions", state.Positions())
}

// runPair samples the pair and advances its positions. A failure here only
// skips this pair for this session; a panic is contained the same way.
func (s *Scheduler) runPair(ctx context.Context, pair core.Pair, state core.State, fills map[string]core.Fill, balance map[string]decimal.Decimal) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("pair %s panicked: %v", pair.Name, r)
		}
	}()

	price, err := s.exchange.LastPrice(ctx, pair.Primary)
	if err != nil {
		s.log.WithError(err).Warnf("price unavailable for %s, skipping pair", pair.Name)
		return
	}

	currentATR := decimal.Zero
	if atr, err := s.exchange.CurrentATR(ctx, pair); err != nil {
		s.log.WithError(err).Debugf("atr unavailable for %s, strategies use their floor", pair.Name)
	} else {
		currentATR = atr
	}

	s.log.Infof("%s: price %s, atr %s", pair.Name, price, currentATR)

	state.Pair(pair.Name)
	s.engine.IngestFills(pair, state, fills, currentATR)
	s.engine.Tick(ctx, pair, state, price, currentATR, balance)
}

// sleep waits d or until cancellation; it returns false when cancelled.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
