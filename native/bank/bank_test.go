package bank

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"packchain/core/events"
	"packchain/core/state"
	"packchain/crypto"
	"packchain/storage"
)

func newTestBank(t *testing.T) (*Bank, *state.Manager, *events.Buffer) {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	b := NewBank(st)
	buf := &events.Buffer{}
	b.SetEmitter(buf)
	return b, st, buf
}

func signer(t *testing.T) (crypto.Address, Authority) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	auth, err := SignerAuthority(addr)
	require.NoError(t, err)
	return addr, auth
}

func TestSignerAuthorityRejectsDerivedAddresses(t *testing.T) {
	d, err := crypto.Derive(ProgramID, "vault", []byte("x"))
	require.NoError(t, err)
	_, err = SignerAuthority(d.Address)
	require.ErrorIs(t, err, ErrSignerIsDerived)

	_, err = SignerAuthority(crypto.Address{})
	require.ErrorIs(t, err, ErrInvalidAuthority)
}

func TestDerivedAuthorityVerifiesDerivation(t *testing.T) {
	program := crypto.ProgramAddress("test")
	d, err := crypto.Derive(program, "vault", []byte("campaign"))
	require.NoError(t, err)

	auth, err := DerivedAuthority(program, d)
	require.NoError(t, err)
	require.True(t, auth.IsDerived())
	require.Equal(t, d.Address, auth.Address())

	_, err = DerivedAuthority(crypto.ProgramAddress("other"), d)
	require.ErrorIs(t, err, ErrProgramMismatch)

	forged := d
	forged.Parts = [][]byte{[]byte("someone-else")}
	_, err = DerivedAuthority(program, forged)
	require.ErrorIs(t, err, ErrInvalidAuthority)
}

func TestTransfer(t *testing.T) {
	b, st, buf := newTestBank(t)
	alice, aliceAuth := signer(t)
	bob, bobAuth := signer(t)
	require.NoError(t, st.SetNativeBalance(alice, uint256.NewInt(100)))

	require.NoError(t, b.Transfer(aliceAuth, alice, bob, 40))
	bal, _ := b.NativeBalance(alice)
	require.Equal(t, uint64(60), bal.Uint64())
	bal, _ = b.NativeBalance(bob)
	require.Equal(t, uint64(40), bal.Uint64())
	require.Equal(t, 1, buf.Len())

	require.ErrorIs(t, b.Transfer(bobAuth, alice, bob, 1), ErrAuthorityMismatch)
	require.ErrorIs(t, b.Transfer(bobAuth, bob, alice, 41), ErrInsufficientBalance)
	require.ErrorIs(t, b.Transfer(Authority{}, alice, bob, 1), ErrInvalidAuthority)
	require.ErrorIs(t, b.Transfer(aliceAuth, alice, crypto.Address{}, 1), ErrZeroRecipient)

	require.NoError(t, b.Transfer(aliceAuth, alice, bob, 0))
	require.Equal(t, 1, buf.Len())
}

func TestTransferOverflow(t *testing.T) {
	b, st, _ := newTestBank(t)
	alice, aliceAuth := signer(t)
	bob, _ := signer(t)
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, st.SetNativeBalance(alice, uint256.NewInt(10)))
	require.NoError(t, st.SetNativeBalance(bob, max))

	require.ErrorIs(t, b.Transfer(aliceAuth, alice, bob, 1), ErrBalanceOverflow)
}

func TestRegisterAndMint(t *testing.T) {
	b, _, buf := newTestBank(t)
	creator, creatorAuth := signer(t)
	program := crypto.ProgramAddress("test")
	minter, err := crypto.Derive(program, "campaign", []byte{1})
	require.NoError(t, err)

	asset, err := b.RegisterAsset(creator, " gem ", 6, minter.Address)
	require.NoError(t, err)
	require.True(t, asset.IsDerived())

	expected, err := AssetID(creator, "GEM")
	require.NoError(t, err)
	require.Equal(t, expected.Address, asset)

	_, err = b.RegisterAsset(creator, "GEM", 6, minter.Address)
	require.ErrorIs(t, err, ErrAssetExists)
	_, err = b.RegisterAsset(creator, "not valid!", 6, minter.Address)
	require.ErrorIs(t, err, ErrInvalidSymbol)
	_, err = b.RegisterAsset(creator, "OTHER", 19, minter.Address)
	require.ErrorIs(t, err, ErrInvalidDecimals)

	minterAuth, err := DerivedAuthority(program, minter)
	require.NoError(t, err)
	holder, _ := signer(t)

	require.NoError(t, b.MintTo(asset, minterAuth, holder, 250))
	bal, err := b.AssetBalance(asset, holder)
	require.NoError(t, err)
	require.Equal(t, uint64(250), bal.Uint64())
	meta, err := b.Asset(asset)
	require.NoError(t, err)
	require.Equal(t, uint64(250), meta.Supply.Uint64())

	require.ErrorIs(t, b.MintTo(asset, creatorAuth, holder, 1), ErrInvalidMintAuthority)
	require.ErrorIs(t, b.MintTo(crypto.ProgramAddress("nope"), minterAuth, holder, 1), ErrUnknownAsset)

	require.NoError(t, b.SetMintPaused(asset, creatorAuth, true))
	require.ErrorIs(t, b.MintTo(asset, minterAuth, holder, 1), ErrMintPaused)

	types := make([]string, 0)
	for _, evt := range buf.Flush(nil) {
		types = append(types, evt.EventType())
	}
	require.Equal(t, []string{EventTypeAssetRegistered, EventTypeMint, EventTypeMintPaused}, types)
}
