package genesis

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"packchain/core/state"
	"packchain/crypto"
	"packchain/native/bank"
)

// ErrGenesisMismatch is returned when the ledger was seeded from a different
// genesis document.
var ErrGenesisMismatch = errors.New("genesis: ledger was initialised from a different genesis")

// Apply seeds st from spec and commits the result. It is a no-op when the same
// genesis was applied before. The boolean reports whether anything was
// written.
func Apply(spec *GenesisSpec, st *state.Manager) ([32]byte, bool, error) {
	var hash [32]byte
	if spec == nil {
		return hash, false, fmt.Errorf("genesis spec must not be nil")
	}
	if st == nil {
		return hash, false, fmt.Errorf("state manager must not be nil")
	}
	if err := spec.validate(); err != nil {
		return hash, false, err
	}
	hash, err := spec.Hash()
	if err != nil {
		return hash, false, fmt.Errorf("hash genesis: %w", err)
	}
	existing, ok, err := st.GenesisHash()
	if err != nil {
		return hash, false, err
	}
	if ok {
		if existing != hash {
			return hash, false, fmt.Errorf("%w: have %x, want %x", ErrGenesisMismatch, existing, hash)
		}
		return hash, false, nil
	}

	if err := apply(spec, st); err != nil {
		st.Discard()
		return hash, false, err
	}
	if err := st.MarkGenesis(hash); err != nil {
		st.Discard()
		return hash, false, err
	}
	if err := st.SetStateVersion(state.StateVersion); err != nil {
		st.Discard()
		return hash, false, err
	}
	if err := st.Commit(); err != nil {
		return hash, false, fmt.Errorf("commit genesis: %w", err)
	}
	return hash, true, nil
}

func apply(spec *GenesisSpec, st *state.Manager) error {
	// 1) Native allocations (addresses sorted)
	for _, account := range sortedKeys(spec.Alloc) {
		addr, _ := parseSigner(account)
		amount, _ := parseAmount(spec.Alloc[account])
		if err := st.SetNativeBalance(addr, amount); err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
	}

	// 2) Assets with their pre-minted balances
	for i := range spec.Assets {
		asset := &spec.Assets[i]
		creator, _ := parseSigner(asset.Creator)
		authority, _ := crypto.ParseAddress(asset.MintAuthority)
		d, err := bank.AssetID(creator, asset.Symbol)
		if err != nil {
			return fmt.Errorf("asset %q: %w", asset.Symbol, err)
		}
		supply, err := asset.supply()
		if err != nil {
			return fmt.Errorf("asset %q: %w", asset.Symbol, err)
		}
		meta := &state.AssetMetadata{
			Symbol:        string(d.Parts[1]),
			Decimals:      asset.Decimals,
			Creator:       creator,
			MintAuthority: authority,
			MintPaused:    asset.InitialMintPaused,
			Supply:        supply,
		}
		if err := st.PutAsset(d.Address, meta); err != nil {
			return fmt.Errorf("asset %q: %w", asset.Symbol, err)
		}
		for _, account := range sortedKeys(asset.Alloc) {
			holder, _ := parseSigner(account)
			amount, _ := parseAmount(asset.Alloc[account])
			if err := st.SetAssetBalance(d.Address, holder, new(uint256.Int).Set(amount)); err != nil {
				return fmt.Errorf("asset %q alloc[%q]: %w", asset.Symbol, account, err)
			}
		}
	}
	return nil
}
