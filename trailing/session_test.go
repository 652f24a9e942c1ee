package trailing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raykavin/trailbot/core"
	zerologadapter "github.com/raykavin/trailbot/logger/zerolog"
)

type sessionExchange struct {
	price      decimal.Decimal
	atr        decimal.Decimal
	fills      map[string]core.Fill
	balance    map[string]decimal.Decimal
	balanceErr error
	priceErr   error

	sessions int
}

func (f *sessionExchange) Balance(context.Context) (map[string]decimal.Decimal, error) {
	f.sessions++
	return f.balance, f.balanceErr
}

func (f *sessionExchange) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, f.priceErr
}

func (f *sessionExchange) CurrentATR(context.Context, core.Pair) (decimal.Decimal, error) {
	return f.atr, nil
}

func (f *sessionExchange) ClosedOrdersBetween(context.Context, time.Time, time.Time) (map[string]core.Fill, error) {
	return f.fills, nil
}

func (f *sessionExchange) PlaceLimit(context.Context, core.Pair, core.SideType, decimal.Decimal, decimal.Decimal) (string, error) {
	return "TX-1", nil
}

type memoryStore struct {
	state core.State
	saves int
}

func (m *memoryStore) Load() (core.State, error) {
	if m.state == nil {
		return make(core.State), nil
	}
	return m.state, nil
}

func (m *memoryStore) Save(state core.State) error {
	m.state = state
	m.saves++
	return nil
}

func newTestScheduler(t *testing.T, exchange *sessionExchange, store *memoryStore) *Scheduler {
	t.Helper()

	engine := newTestEngine(t, &fakeExchange{}, newFakeClosedLog(), 0)
	zl := zerolog.Nop()

	s := NewScheduler(engine, exchange, store, []core.Pair{testPair},
		5*time.Millisecond, &PauseFlag{}, zerologadapter.NewAdapter(&zl))
	s.pairDelay = 0

	return s
}

func TestRunSessionIngestsAndPersists(t *testing.T) {
	exchange := &sessionExchange{
		price:   decimal.NewFromInt(60500),
		atr:     decimal.NewFromInt(300),
		fills:   map[string]core.Fill{"F1": buyFill("F1", 60000, 0.01)},
		balance: map[string]decimal.Decimal{},
	}
	store := &memoryStore{}

	s := newTestScheduler(t, exchange, store)
	s.runSession(context.Background())

	require.Equal(t, 1, store.saves)
	pos := store.state["XBTEUR"]["F1"]
	require.NotNil(t, pos)
	assert.False(t, pos.Active())
}

func TestRunSessionSkipsOnBalanceError(t *testing.T) {
	exchange := &sessionExchange{balanceErr: errors.New("api down")}
	store := &memoryStore{}

	s := newTestScheduler(t, exchange, store)
	s.runSession(context.Background())

	assert.Zero(t, store.saves)
}

func TestRunSessionSkipsPairOnPriceError(t *testing.T) {
	exchange := &sessionExchange{
		priceErr: errors.New("ticker down"),
		fills:    map[string]core.Fill{"F1": buyFill("F1", 60000, 0.01)},
		balance:  map[string]decimal.Decimal{},
	}
	store := &memoryStore{}

	s := newTestScheduler(t, exchange, store)
	s.runSession(context.Background())

	// State is still persisted, but no fill was ingested for the pair.
	require.Equal(t, 1, store.saves)
	assert.Empty(t, store.state["XBTEUR"])
}

func TestRunHonorsPauseAndCancellation(t *testing.T) {
	exchange := &sessionExchange{
		price:   decimal.NewFromInt(60500),
		atr:     decimal.NewFromInt(300),
		balance: map[string]decimal.Decimal{},
	}
	store := &memoryStore{}

	s := newTestScheduler(t, exchange, store)
	s.pause.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}

	assert.Zero(t, exchange.sessions, "paused scheduler must not touch the exchange")
}
