package bank

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/holiman/uint256"

	"packchain/core/events"
	"packchain/core/state"
	"packchain/crypto"
)

const (
	// MaxSymbolLength bounds asset symbols.
	MaxSymbolLength = 16
	// MaxDecimals bounds asset precision.
	MaxDecimals = 18
)

var (
	ErrNilState             = errors.New("bank: state not configured")
	ErrAuthorityMismatch    = errors.New("bank: authority does not control source account")
	ErrInsufficientBalance  = errors.New("bank: insufficient balance")
	ErrBalanceOverflow      = errors.New("bank: balance overflow")
	ErrUnknownAsset         = errors.New("bank: unknown asset")
	ErrInvalidMintAuthority = errors.New("bank: invalid mint authority")
	ErrMintPaused           = errors.New("bank: minting paused")
	ErrSupplyOverflow       = errors.New("bank: supply overflow")
	ErrAssetExists          = errors.New("bank: asset already registered")
	ErrInvalidSymbol        = errors.New("bank: invalid asset symbol")
	ErrInvalidDecimals      = errors.New("bank: invalid decimals")
	ErrZeroRecipient        = errors.New("bank: recipient required")
)

// ProgramID is the address the bank derives asset ids under.
var ProgramID = crypto.ProgramAddress("bank")

type ledgerState interface {
	NativeBalance(addr crypto.Address) (*uint256.Int, error)
	SetNativeBalance(addr crypto.Address, amount *uint256.Int) error
	AssetBalance(asset, addr crypto.Address) (*uint256.Int, error)
	SetAssetBalance(asset, addr crypto.Address, amount *uint256.Int) error
	Asset(asset crypto.Address) (*state.AssetMetadata, error)
	PutAsset(asset crypto.Address, meta *state.AssetMetadata) error
}

// Bank moves native value and mints registered assets. It never decides who
// may act: callers hand it an Authority.
type Bank struct {
	state   ledgerState
	emitter events.Emitter
}

// NewBank creates a bank over the provided state with a no-op emitter.
func NewBank(st ledgerState) *Bank {
	return &Bank{state: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

func (b *Bank) ready() error {
	if b == nil || b.state == nil {
		return ErrNilState
	}
	return nil
}

// NativeBalance returns the native balance of addr.
func (b *Bank) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.state.NativeBalance(addr)
}

// AssetBalance returns the asset balance of addr.
func (b *Bank) AssetBalance(asset, addr crypto.Address) (*uint256.Int, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.state.AssetBalance(asset, addr)
}

// Asset returns the metadata of a registered asset or ErrUnknownAsset.
func (b *Bank) Asset(asset crypto.Address) (*state.AssetMetadata, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	meta, err := b.state.Asset(asset)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrUnknownAsset
	}
	return meta, nil
}

// Transfer moves native value from one account to another. The authority must
// control from. Zero transfers are no-ops.
func (b *Bank) Transfer(auth Authority, from, to crypto.Address, amount uint64) error {
	if err := b.ready(); err != nil {
		return err
	}
	if !auth.Valid() {
		return ErrInvalidAuthority
	}
	if auth.Address() != from {
		return ErrAuthorityMismatch
	}
	if to.IsZero() {
		return ErrZeroRecipient
	}
	if amount == 0 || from == to {
		return nil
	}
	value := uint256.NewInt(amount)

	fromBal, err := b.state.NativeBalance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: have %s, need %d", ErrInsufficientBalance, fromBal.Dec(), amount)
	}
	toBal, err := b.state.NativeBalance(to)
	if err != nil {
		return err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, value)
	if overflow {
		return ErrBalanceOverflow
	}
	newFrom := new(uint256.Int).Sub(fromBal, value)

	if err := b.state.SetNativeBalance(from, newFrom); err != nil {
		return err
	}
	if err := b.state.SetNativeBalance(to, newTo); err != nil {
		return err
	}
	b.emitter.Emit(newTransferEvent(from, to, amount))
	return nil
}

// NormalizeSymbol upper-cases and validates an asset symbol.
func NormalizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" || len(normalized) > MaxSymbolLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, r := range normalized {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return normalized, nil
}

// AssetID returns the derived id of the asset creator registers as symbol.
func AssetID(creator crypto.Address, symbol string) (crypto.Derivation, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return crypto.Derivation{}, err
	}
	return crypto.Derive(ProgramID, "asset", creator[:], []byte(normalized))
}

// RegisterAsset creates an asset owned by creator and returns its id. Only
// mintAuthority may mint it.
func (b *Bank) RegisterAsset(creator crypto.Address, symbol string, decimals uint8, mintAuthority crypto.Address) (crypto.Address, error) {
	if err := b.ready(); err != nil {
		return crypto.Address{}, err
	}
	if decimals > MaxDecimals {
		return crypto.Address{}, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	if mintAuthority.IsZero() {
		return crypto.Address{}, ErrInvalidMintAuthority
	}
	d, err := AssetID(creator, symbol)
	if err != nil {
		return crypto.Address{}, err
	}
	existing, err := b.state.Asset(d.Address)
	if err != nil {
		return crypto.Address{}, err
	}
	if existing != nil {
		return crypto.Address{}, ErrAssetExists
	}
	meta := &state.AssetMetadata{
		Symbol:        string(d.Parts[1]),
		Decimals:      decimals,
		Creator:       creator,
		MintAuthority: mintAuthority,
		Supply:        uint256.NewInt(0),
	}
	if err := b.state.PutAsset(d.Address, meta); err != nil {
		return crypto.Address{}, err
	}
	b.emitter.Emit(newAssetRegisteredEvent(d.Address, meta))
	return d.Address, nil
}

// MintTo creates amount units of asset and credits them to to. The authority
// must be the asset's mint authority.
func (b *Bank) MintTo(asset crypto.Address, auth Authority, to crypto.Address, amount uint64) error {
	if err := b.ready(); err != nil {
		return err
	}
	meta, err := b.Asset(asset)
	if err != nil {
		return err
	}
	if !auth.Valid() {
		return ErrInvalidAuthority
	}
	if auth.Address() != meta.MintAuthority {
		return ErrInvalidMintAuthority
	}
	if meta.MintPaused {
		return ErrMintPaused
	}
	if to.IsZero() {
		return ErrZeroRecipient
	}
	value := uint256.NewInt(amount)
	supply, overflow := new(uint256.Int).AddOverflow(meta.Supply, value)
	if overflow {
		return ErrSupplyOverflow
	}
	bal, err := b.state.AssetBalance(asset, to)
	if err != nil {
		return err
	}
	newBal, overflow := new(uint256.Int).AddOverflow(bal, value)
	if overflow {
		return ErrBalanceOverflow
	}
	meta.Supply = supply
	if err := b.state.PutAsset(asset, meta); err != nil {
		return err
	}
	if err := b.state.SetAssetBalance(asset, to, newBal); err != nil {
		return err
	}
	b.emitter.Emit(newMintEvent(asset, to, amount))
	return nil
}

// SetMintPaused toggles minting for an asset. Only the creator may do so.
func (b *Bank) SetMintPaused(asset crypto.Address, auth Authority, paused bool) error {
	meta, err := b.Asset(asset)
	if err != nil {
		return err
	}
	if !auth.Valid() || auth.Address() != meta.Creator {
		return ErrAuthorityMismatch
	}
	meta.MintPaused = paused
	if err := b.state.PutAsset(asset, meta); err != nil {
		return err
	}
	b.emitter.Emit(newMintPausedEvent(asset, paused))
	return nil
}
