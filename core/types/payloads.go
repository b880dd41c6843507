package types

import "packchain/crypto"

// TransferPayload moves native value between two signer accounts.
type TransferPayload struct {
	To     crypto.Address
	Amount uint64
}

// RegisterAssetPayload creates a reward asset. The asset id is derived from
// the sender and Symbol.
type RegisterAssetPayload struct {
	Symbol        string
	Decimals      uint8
	MintAuthority crypto.Address
}

// SetMintPausedPayload toggles minting. Only the asset creator may send it.
type SetMintPausedPayload struct {
	Asset  crypto.Address
	Paused bool
}

type InitializeCampaignPayload struct {
	Seed        uint64
	MerkleRoot  [32]byte
	PackPrice   uint64
	TotalPacks  uint32
	RewardAsset crypto.Address
}

type PurchasePackPayload struct {
	Campaign crypto.Address
}

// ClaimPackPayload reveals a pack. Asset is optional; when present it must
// match the campaign's reward asset.
type ClaimPackPayload struct {
	Receipt crypto.Address
	Amount  uint64
	Salt    [32]byte
	Proof   [][32]byte
	Asset   *crypto.Address `rlp:"nil"`
}

type CloseCampaignPayload struct {
	Campaign crypto.Address
}

// WithdrawAdminPayload drains the vault. When All is set Amount is ignored
// and everything above the reserve is withdrawn.
type WithdrawAdminPayload struct {
	Campaign crypto.Address
	Amount   uint64
	All      bool
}
