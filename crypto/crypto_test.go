package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	var addr Address
	copy(addr[:], bytes.Repeat([]byte{0x42}, AddressLength))

	encoded := addr.String()
	require.Contains(t, encoded, AddressPrefix+"1")

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	fromHex, err := ParseAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, fromHex)

	text, err := addr.MarshalText()
	require.NoError(t, err)
	var decoded Address
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, addr, decoded)
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	_, err := ParseAddress("")
	require.Error(t, err)
	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("not-an-address")
	require.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	require.False(t, addr.IsDerived(), "signer addresses never carry the derived bit")

	digest := ethcrypto.Keccak256([]byte("payload"))
	sig, err := key.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	recovered, err := RecoverAddress(digest, sig)
	require.NoError(t, err)
	require.Equal(t, addr, recovered)

	_, err = RecoverAddress(digest, sig[:64])
	require.Error(t, err)

	_, err = key.Sign([]byte("short"))
	require.Error(t, err)
}

func TestDeriveIsDeterministicAndVerifiable(t *testing.T) {
	program := ProgramAddress("test")
	require.True(t, program.IsDerived())

	first, err := Derive(program, "campaign", []byte{1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	second, err := Derive(program, "campaign", []byte{1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, first.Address, second.Address)
	require.Equal(t, first.Bump, second.Bump)
	require.True(t, first.Address.IsDerived())
	require.NoError(t, VerifyDerivation(first))

	other, err := Derive(program, "campaign", []byte{2, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NotEqual(t, first.Address, other.Address)

	vault, err := Derive(program, "vault", first.Address[:])
	require.NoError(t, err)
	require.NotEqual(t, first.Address, vault.Address)

	forged := first
	forged.Address = other.Address
	require.ErrorIs(t, VerifyDerivation(forged), ErrDerivationMismatch)
}

func TestDeriveRejectsOversizedSeeds(t *testing.T) {
	program := ProgramAddress("test")
	_, err := Derive(program, "")
	require.Error(t, err)
	_, err = Derive(program, "role", bytes.Repeat([]byte{1}, MaxDerivationPartLen+1))
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	keystoreScryptN, keystoreScryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() {
		keystoreScryptN, keystoreScryptP = keystore.StandardScryptN, keystore.StandardScryptP
	})

	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	created, fresh, err := LoadOrCreateKeystore(path, "secret")
	require.NoError(t, err)
	require.True(t, fresh)

	loaded, fresh, err := LoadOrCreateKeystore(path, "secret")
	require.NoError(t, err)
	require.False(t, fresh)
	require.Equal(t, created.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
