package bank

import (
	"strconv"

	"packchain/core/state"
	"packchain/core/types"
	"packchain/crypto"
)

const (
	EventTypeAssetRegistered = "bank.asset.registered"
	EventTypeTransfer        = "bank.transfer"
	EventTypeMint            = "bank.mint"
	EventTypeMintPaused      = "bank.asset.mint_paused"
)

type bankEvent struct {
	evt *types.Event
}

func (e bankEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e bankEvent) Event() *types.Event { return e.evt }

func newTransferEvent(from, to crypto.Address, amount uint64) bankEvent {
	return bankEvent{evt: &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"from":   from.String(),
			"to":     to.String(),
			"amount": strconv.FormatUint(amount, 10),
		},
	}}
}

func newAssetRegisteredEvent(asset crypto.Address, meta *state.AssetMetadata) bankEvent {
	return bankEvent{evt: &types.Event{
		Type: EventTypeAssetRegistered,
		Attributes: map[string]string{
			"asset":         asset.String(),
			"symbol":        meta.Symbol,
			"decimals":      strconv.FormatUint(uint64(meta.Decimals), 10),
			"creator":       meta.Creator.String(),
			"mintAuthority": meta.MintAuthority.String(),
		},
	}}
}

func newMintEvent(asset, to crypto.Address, amount uint64) bankEvent {
	return bankEvent{evt: &types.Event{
		Type: EventTypeMint,
		Attributes: map[string]string{
			"asset":  asset.String(),
			"to":     to.String(),
			"amount": strconv.FormatUint(amount, 10),
		},
	}}
}

func newMintPausedEvent(asset crypto.Address, paused bool) bankEvent {
	return bankEvent{evt: &types.Event{
		Type: EventTypeMintPaused,
		Attributes: map[string]string{
			"asset":  asset.String(),
			"paused": strconv.FormatBool(paused),
		},
	}}
}
