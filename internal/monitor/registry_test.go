package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-health-alerts/internal/apperrors"
	"position-health-alerts/internal/quota"
	"position-health-alerts/internal/storage"
)

var defaultThresholds = Thresholds{Alert: 1.15, Critical: 1.05}

func TestAddAppliesDefaultsAndNormalizes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := NewRegistry(store, defaultThresholds, zerolog.Nop())

	rec, err := reg.Add(ctx, AddRequest{UserID: 7, Address: "  0xABCDEF0123456789abcdef0123456789ABCDEF01 "})
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", rec.Address)
	assert.Equal(t, 1.15, rec.AlertThreshold)
	assert.Equal(t, 1.05, rec.CriticalThreshold)

	list, err := reg.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.Address, list[0].Address)
}

func TestAddTwiceKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := NewRegistry(store, defaultThresholds, zerolog.Nop())

	_, err := reg.Add(ctx, AddRequest{UserID: 7, Address: addrA})
	require.NoError(t, err)
	_, err = reg.Add(ctx, AddRequest{UserID: 7, Address: addrA, AlertThreshold: 1.3, CriticalThreshold: 1.1})
	require.NoError(t, err)

	list, err := reg.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1.3, list[0].AlertThreshold)
	assert.Equal(t, 1.1, list[0].CriticalThreshold)
}

func TestAddRejectsInvalidInput(t *testing.T) {
	reg := NewRegistry(storage.NewMemoryStore(), defaultThresholds, zerolog.Nop())

	tests := []struct {
		name string
		req  AddRequest
	}{
		{"missing prefix", AddRequest{UserID: 1, Address: "1111111111111111111111111111111111111111"}},
		{"short", AddRequest{UserID: 1, Address: "0x1234"}},
		{"non hex", AddRequest{UserID: 1, Address: "0xZZ11111111111111111111111111111111111111"}},
		{"negative alert", AddRequest{UserID: 1, Address: addrA, AlertThreshold: -1}},
		{"negative critical", AddRequest{UserID: 1, Address: addrA, CriticalThreshold: -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Add(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		})
	}
}

func TestAddDoesNotSpendLookupQuota(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	ledger := quota.NewLedger(store, 10, zerolog.Nop())
	reg := NewRegistry(store, defaultThresholds, zerolog.Nop())

	for i := 0; i < 10; i++ {
		addr := fmt.Sprintf("0x%040x", i+1)
		_, err := reg.Add(ctx, AddRequest{UserID: 9, Address: addr})
		require.NoError(t, err)
	}

	assert.Equal(t, quota.Quota{Allowed: true, Used: 0, Remaining: 10, Limit: 10}, ledger.Check(ctx, 9))

	p := newFakeProvider()
	p.set("eth", addrA, position("eth", 42, 1.5))
	lookup := NewLookup(p, testChains(t), ledger, zerolog.Nop())
	hits, q, err := lookup.LookupPosition(ctx, 9, 42)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.Equal(t, int64(1), q.Used)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	reg := NewRegistry(store, defaultThresholds, zerolog.Nop())

	_, err := reg.Add(ctx, AddRequest{UserID: 1, Address: addrA})
	require.NoError(t, err)
	_, err = reg.Add(ctx, AddRequest{UserID: 2, Address: addrA})
	require.NoError(t, err)

	err = reg.Remove(ctx, 1, addrB)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMonitorNotFound))
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	require.NoError(t, reg.Remove(ctx, 1, "0x1111111111111111111111111111111111111111"))

	mine, err := reg.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := reg.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, theirs, 1, "other users keep their rows")

	assert.ErrorIs(t, reg.Remove(ctx, 1, addrA), ErrMonitorNotFound)
}
