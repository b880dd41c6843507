package mysterypack

import (
	"github.com/holiman/uint256"

	"packchain/crypto"
)

// Campaign is the per-sale configuration and counters. Seed, Authority,
// RewardAsset, PackPrice, TotalPacks and MerkleRoot never change after
// initialization.
type Campaign struct {
	Seed        uint64
	Authority   crypto.Address
	RewardAsset crypto.Address
	PackPrice   uint64
	TotalPacks  uint32
	PacksSold   uint32
	MerkleRoot  [32]byte
	IsActive    bool
	Bump        uint8
	VaultBump   uint8
}

// Clone returns a copy of the campaign.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Remaining returns the number of packs still for sale.
func (c *Campaign) Remaining() uint32 {
	if c.PacksSold >= c.TotalPacks {
		return 0
	}
	return c.TotalPacks - c.PacksSold
}

// SoldOut reports whether every pack has been sold.
func (c *Campaign) SoldOut() bool { return c.PacksSold >= c.TotalPacks }

// Receipt proves Buyer bought the pack at PackIndex. It is claimed at most
// once.
type Receipt struct {
	Campaign  crypto.Address
	Buyer     crypto.Address
	PackIndex uint32
	IsClaimed bool
}

// Clone returns a copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// InitParams configures a new campaign.
type InitParams struct {
	Seed        uint64
	MerkleRoot  [32]byte
	PackPrice   uint64
	TotalPacks  uint32
	RewardAsset crypto.Address
}

// Claim is the revealed secret for one pack. Asset is optional; when set it
// must name the campaign's reward asset.
type Claim struct {
	Amount uint64
	Salt   [32]byte
	Proof  [][32]byte
	Asset  *crypto.Address
}

// VaultInfo summarises the custody balance of a campaign.
type VaultInfo struct {
	Address   crypto.Address
	Bump      uint8
	Balance   *uint256.Int
	Reserve   *uint256.Int
	Available *uint256.Int
}
