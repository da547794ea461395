package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"position-health-alerts/internal/alerting"
	"position-health-alerts/internal/chain"
	"position-health-alerts/internal/health"
	"position-health-alerts/internal/provider"
	"position-health-alerts/internal/storage"
)

const (
	addrA = "0x1111111111111111111111111111111111111111"
	addrB = "0x2222222222222222222222222222222222222222"
)

func testChains(t *testing.T) *chain.Registry {
	t.Helper()
	reg, err := chain.NewRegistry([]chain.Chain{
		{Key: "eth", Name: "Ethereum", ChainID: 1, Explorer: "https://etherscan.io", Monitored: true, Order: 0},
		{Key: "base", Name: "Base", ChainID: 8453, Explorer: "https://basescan.org", Monitored: true, Order: 1},
		{Key: "plasma", Name: "Plasma", ChainID: 369, Monitored: false, Order: 2},
	})
	require.NoError(t, err)
	return reg
}

func position(chainKey string, id int64, hf float64) health.Position {
	return health.Position{
		PositionID:              id,
		Owner:                   addrA,
		Chain:                   chainKey,
		SupplyUSD:               1000,
		BorrowUSD:               900 / hf * 0.9,
		Ratio:                   90 / hf,
		HealthFactor:            hf,
		LiquidationThresholdPct: 90,
	}
}

type fakeProvider struct {
	mu        sync.Mutex
	positions map[string]map[string][]health.Position
	chainErrs map[string]error
	calls     map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		positions: make(map[string]map[string][]health.Position),
		chainErrs: make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (p *fakeProvider) set(chainKey, address string, positions ...health.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.positions[chainKey] == nil {
		p.positions[chainKey] = make(map[string][]health.Position)
	}
	p.positions[chainKey][address] = positions
}

func (p *fakeProvider) fail(chainKey string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainErrs[chainKey] = err
}

func (p *fakeProvider) callCount(chainKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[chainKey]
}

func (p *fakeProvider) FetchPositionsForAddress(_ context.Context, chainKey, address string) ([]health.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[chainKey]++
	if err := p.chainErrs[chainKey]; err != nil {
		return nil, err
	}
	return p.positions[chainKey][address], nil
}

func (p *fakeProvider) FetchPosition(_ context.Context, chainKey string, positionID int64) (health.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[chainKey]++
	if err := p.chainErrs[chainKey]; err != nil {
		return health.Position{}, err
	}
	for _, positions := range p.positions[chainKey] {
		for _, pos := range positions {
			if pos.PositionID == positionID {
				return pos, nil
			}
		}
	}
	return health.Position{}, fmt.Errorf("position %d: %w", positionID, provider.ErrNotFound)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []alerting.Notification
	err   error
	tries int
}

func (n *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tries++
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) notes() []alerting.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alerting.Notification(nil), n.sent...)
}

// flakyHistory fails RecordAlert while failing is set.
type flakyHistory struct {
	*storage.MemoryStore
	mu      sync.Mutex
	failing bool
}

func (h *flakyHistory) setFailing(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = v
}

func (h *flakyHistory) RecordAlert(ctx context.Context, alert storage.AlertRecord, snap storage.PositionSnapshot) (storage.AlertRecord, error) {
	h.mu.Lock()
	failing := h.failing
	h.mu.Unlock()
	if failing {
		return storage.AlertRecord{}, errors.New("disk full")
	}
	return h.MemoryStore.RecordAlert(ctx, alert, snap)
}

type brokenMonitors struct{ storage.MonitorStore }

func (brokenMonitors) ListAllMonitors(context.Context) ([]storage.MonitoredAddress, error) {
	return nil, errors.New("connection reset")
}

type heldLocker struct{}

func (heldLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
