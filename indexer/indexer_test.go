package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"packchain/core/types"
	"packchain/crypto"
	"packchain/native/mysterypack"
)

type rawEvent struct{ evt *types.Event }

func (r rawEvent) EventType() string   { return r.evt.Type }
func (r rawEvent) Event() *types.Event { return r.evt }

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	ix := New(db, nil)
	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ix.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return ix
}

func addr(fill byte) crypto.Address {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	a[0] &= 0x7f
	return a
}

func TestIndexerProjectsCampaignLifecycle(t *testing.T) {
	ix := newTestIndexer(t)
	ctx := context.Background()

	campaignAddr, vault := addr(0xC1), addr(0xC2)
	buyerA, buyerB := addr(0x0A), addr(0x0B)
	asset := addr(0xAA)
	campaign := &mysterypack.Campaign{
		Seed:        7,
		Authority:   addr(0x01),
		RewardAsset: asset,
		PackPrice:   100,
		TotalPacks:  2,
		IsActive:    true,
	}
	ix.Emit(rawEvent{mysterypack.NewCampaignInitializedEvent(campaignAddr, vault, campaign)})

	receiptA, receiptB := addr(0xA1), addr(0xB1)
	ix.Emit(rawEvent{mysterypack.NewPackPurchasedEvent(receiptA, &mysterypack.Receipt{Campaign: campaignAddr, Buyer: buyerA, PackIndex: 0}, 100)})
	ix.Emit(rawEvent{mysterypack.NewPackPurchasedEvent(receiptB, &mysterypack.Receipt{Campaign: campaignAddr, Buyer: buyerB, PackIndex: 1}, 100)})
	ix.Emit(rawEvent{mysterypack.NewPackClaimedEvent(receiptA, &mysterypack.Receipt{Campaign: campaignAddr, Buyer: buyerA, PackIndex: 0, IsClaimed: true}, asset, 500)})
	ix.Emit(rawEvent{mysterypack.NewCampaignClosedEvent(campaignAddr, campaign)})
	ix.Emit(rawEvent{mysterypack.NewVaultWithdrawnEvent(campaignAddr, vault, campaign.Authority, 200)})

	row, err := ix.Campaign(ctx, campaignAddr.String())
	require.NoError(t, err)
	require.Equal(t, uint32(2), row.PacksSold)
	require.Equal(t, uint64(100), row.PackPrice)
	require.False(t, row.Active)
	require.Equal(t, vault.String(), row.Vault)

	receipts, err := ix.ReceiptsByCampaign(ctx, campaignAddr.String(), 0)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, receiptA.String(), receipts[0].Address)
	require.True(t, receipts[0].Claimed)
	require.Equal(t, uint64(500), receipts[0].Amount)
	require.NotNil(t, receipts[0].ClaimedAt)
	require.False(t, receipts[1].Claimed)

	mine, err := ix.ReceiptsByBuyer(ctx, buyerB.String(), 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, uint32(1), mine[0].PackIndex)

	withdrawals, err := ix.Withdrawals(ctx, campaignAddr.String())
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	require.Equal(t, uint64(200), withdrawals[0].Amount)

	active, err := ix.Campaigns(ctx, true, 0)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestIndexerRejectsMalformedEvents(t *testing.T) {
	ix := newTestIndexer(t)
	ctx := context.Background()

	err := ix.Apply(ctx, types.Event{
		Type:       mysterypack.EventTypePackPurchased,
		Attributes: map[string]string{"packIndex": "nope", "price": "1"},
	})
	require.Error(t, err)

	err = ix.Apply(ctx, types.Event{
		Type:       mysterypack.EventTypePackClaimed,
		Attributes: map[string]string{"receipt": addr(0x42).String(), "amount": "5"},
	})
	require.True(t, errors.Is(err, ErrNotFound))

	// Unrelated events are ignored; failures never panic through Emit.
	require.NoError(t, ix.Apply(ctx, types.Event{Type: "bank.transfer"}))
	ix.Emit(rawEvent{&types.Event{Type: mysterypack.EventTypeVaultWithdrawn, Attributes: map[string]string{"amount": "x"}}})

	_, err = ix.Campaign(ctx, addr(0x99).String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	require.Error(t, err)
}
