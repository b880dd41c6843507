package mysterypack

import (
	"encoding/binary"
	"fmt"

	"packchain/crypto"
)

// ProgramID is the address the mystery pack program derives its accounts
// under.
var ProgramID = crypto.ProgramAddress("mysterypack")

const (
	RoleCampaign = "campaign"
	RoleVault    = "vault"
	RoleReceipt  = "receipt"
)

func seedBytes(seed uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	return buf[:]
}

func indexBytes(index uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], index)
	return buf[:]
}

func derive(program crypto.Address, role string, parts ...[]byte) (crypto.Derivation, error) {
	d, err := crypto.Derive(program, role, parts...)
	if err != nil {
		return crypto.Derivation{}, fmt.Errorf("%w: %s: %v", ErrDerivationFailed, role, err)
	}
	return d, nil
}

// CampaignDerivation derives the campaign address for seed.
func CampaignDerivation(program crypto.Address, seed uint64) (crypto.Derivation, error) {
	return derive(program, RoleCampaign, seedBytes(seed))
}

// VaultDerivation derives the escrow vault address of a campaign.
func VaultDerivation(program, campaign crypto.Address) (crypto.Derivation, error) {
	return derive(program, RoleVault, campaign[:])
}

// ReceiptDerivation derives the receipt address for one pack index.
func ReceiptDerivation(program, campaign crypto.Address, index uint32) (crypto.Derivation, error) {
	return derive(program, RoleReceipt, campaign[:], indexBytes(index))
}

// campaignDerivationFromRecord rebuilds the campaign's derivation from its stored bump.
func campaignDerivationFromRecord(program crypto.Address, addr crypto.Address, c *Campaign) crypto.Derivation {
	return crypto.Derivation{
		Program: program,
		Address: addr,
		Bump:    c.Bump,
		Role:    RoleCampaign,
		Parts:   [][]byte{seedBytes(c.Seed)},
	}
}

func vaultDerivationFromRecord(program crypto.Address, campaign, vault crypto.Address, c *Campaign) crypto.Derivation {
	return crypto.Derivation{
		Program: program,
		Address: vault,
		Bump:    c.VaultBump,
		Role:    RoleVault,
		Parts:   [][]byte{append([]byte(nil), campaign[:]...)},
	}
}

// Addresses bundles every derived address of a campaign.
type Addresses struct {
	Campaign     crypto.Address
	CampaignBump uint8
	Vault        crypto.Address
	VaultBump    uint8
}

// DeriveAddresses derives the campaign and vault addresses for seed.
func DeriveAddresses(program crypto.Address, seed uint64) (Addresses, error) {
	cd, err := CampaignDerivation(program, seed)
	if err != nil {
		return Addresses{}, err
	}
	vd, err := VaultDerivation(program, cd.Address)
	if err != nil {
		return Addresses{}, err
	}
	return Addresses{
		Campaign:     cd.Address,
		CampaignBump: cd.Bump,
		Vault:        vd.Address,
		VaultBump:    vd.Bump,
	}, nil
}
