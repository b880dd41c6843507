package mysterypack

import (
	"encoding/hex"
	"strconv"

	"packchain/core/types"
	"packchain/crypto"
)

const (
	EventTypeCampaignInitialized = "mysterypack.campaign.initialized"
	EventTypePackPurchased       = "mysterypack.pack.purchased"
	EventTypePackClaimed         = "mysterypack.pack.claimed"
	EventTypeCampaignClosed      = "mysterypack.campaign.closed"
	EventTypeVaultWithdrawn      = "mysterypack.vault.withdrawn"
)

type packEvent struct {
	evt *types.Event
}

func (e packEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e packEvent) Event() *types.Event { return e.evt }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func campaignAttributes(addr, vault crypto.Address, c *Campaign) map[string]string {
	return map[string]string{
		"campaign":    addr.String(),
		"vault":       vault.String(),
		"seed":        u64(c.Seed),
		"authority":   c.Authority.String(),
		"rewardAsset": c.RewardAsset.String(),
		"packPrice":   u64(c.PackPrice),
		"totalPacks":  u32(c.TotalPacks),
		"packsSold":   u32(c.PacksSold),
		"merkleRoot":  "0x" + hex.EncodeToString(c.MerkleRoot[:]),
		"active":      strconv.FormatBool(c.IsActive),
	}
}

// NewCampaignInitializedEvent returns the payload for a new campaign.
func NewCampaignInitializedEvent(addr, vault crypto.Address, c *Campaign) *types.Event {
	return &types.Event{Type: EventTypeCampaignInitialized, Attributes: campaignAttributes(addr, vault, c)}
}

// NewPackPurchasedEvent returns the payload for a purchase.
func NewPackPurchasedEvent(receiptAddr crypto.Address, r *Receipt, price uint64) *types.Event {
	return &types.Event{
		Type: EventTypePackPurchased,
		Attributes: map[string]string{
			"campaign":  r.Campaign.String(),
			"receipt":   receiptAddr.String(),
			"buyer":     r.Buyer.String(),
			"packIndex": u32(r.PackIndex),
			"price":     u64(price),
		},
	}
}

// NewPackClaimedEvent returns the payload for a successful reveal. The salt
// is not included.
func NewPackClaimedEvent(receiptAddr crypto.Address, r *Receipt, asset crypto.Address, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypePackClaimed,
		Attributes: map[string]string{
			"campaign":  r.Campaign.String(),
			"receipt":   receiptAddr.String(),
			"buyer":     r.Buyer.String(),
			"packIndex": u32(r.PackIndex),
			"asset":     asset.String(),
			"amount":    u64(amount),
		},
	}
}

// NewCampaignClosedEvent returns the payload for a closed campaign.
func NewCampaignClosedEvent(addr crypto.Address, c *Campaign) *types.Event {
	return &types.Event{
		Type: EventTypeCampaignClosed,
		Attributes: map[string]string{
			"campaign":  addr.String(),
			"authority": c.Authority.String(),
			"packsSold": u32(c.PacksSold),
		},
	}
}

// NewVaultWithdrawnEvent returns the payload for an admin withdrawal.
func NewVaultWithdrawnEvent(addr, vault, to crypto.Address, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypeVaultWithdrawn,
		Attributes: map[string]string{
			"campaign": addr.String(),
			"vault":    vault.String(),
			"to":       to.String(),
			"amount":   u64(amount),
		},
	}
}
