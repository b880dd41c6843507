package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	derivationMarker = "packchain/derived"
	programMarker    = "packchain/program/"

	// MaxDerivationParts bounds the number of seed parts per derivation.
	MaxDerivationParts = 16
	// MaxDerivationPartLen bounds the size of each seed part.
	MaxDerivationPartLen = 32
)

var (
	ErrNoViableBump        = errors.New("crypto: unable to find a viable bump")
	ErrDerivationMismatch  = errors.New("crypto: derivation does not match address")
	ErrNotDerivableAddress = errors.New("crypto: bump does not yield a derived address")
)

// Derivation is the proof that Address was derived from (Program, Role,
// Parts) using Bump. Hosts hand it to programs, which recompute it before
// trusting the address.
type Derivation struct {
	Program Address
	Address Address
	Bump    uint8
	Role    string
	Parts   [][]byte
}

// ProgramAddress returns the well-known address of a native program.
func ProgramAddress(name string) Address {
	var addr Address
	copy(addr[:], crypto.Keccak256([]byte(programMarker+name)))
	addr[0] |= 0x80
	return addr
}

func validateSeeds(role string, parts [][]byte) error {
	if role == "" {
		return fmt.Errorf("crypto: derivation role required")
	}
	if len(parts) > MaxDerivationParts {
		return fmt.Errorf("crypto: too many derivation parts (%d)", len(parts))
	}
	for i, part := range parts {
		if len(part) > MaxDerivationPartLen {
			return fmt.Errorf("crypto: derivation part %d exceeds %d bytes", i, MaxDerivationPartLen)
		}
	}
	return nil
}

func hashDerivation(program Address, role string, parts [][]byte, bump uint8) Address {
	chunks := make([][]byte, 0, len(parts)+4)
	chunks = append(chunks, program[:], []byte(role))
	chunks = append(chunks, parts...)
	chunks = append(chunks, []byte{bump}, []byte(derivationMarker))
	var addr Address
	copy(addr[:], crypto.Keccak256(chunks...))
	return addr
}

// CreateDerivedAddress computes the address for an explicit bump. It fails
// when the bump does not land in the derived address space.
func CreateDerivedAddress(program Address, role string, parts [][]byte, bump uint8) (Address, error) {
	if err := validateSeeds(role, parts); err != nil {
		return Address{}, err
	}
	addr := hashDerivation(program, role, parts, bump)
	if !addr.IsDerived() {
		return Address{}, ErrNotDerivableAddress
	}
	return addr, nil
}

// Derive finds the canonical (highest viable) bump for the seeds.
func Derive(program Address, role string, parts ...[]byte) (Derivation, error) {
	if err := validateSeeds(role, parts); err != nil {
		return Derivation{}, err
	}
	for bump := 255; bump >= 0; bump-- {
		addr := hashDerivation(program, role, parts, uint8(bump))
		if !addr.IsDerived() {
			continue
		}
		return Derivation{
			Program: program,
			Address: addr,
			Bump:    uint8(bump),
			Role:    role,
			Parts:   cloneParts(parts),
		}, nil
	}
	return Derivation{}, ErrNoViableBump
}

// VerifyDerivation recomputes the derivation and checks it against the
// claimed address.
func VerifyDerivation(d Derivation) error {
	addr, err := CreateDerivedAddress(d.Program, d.Role, d.Parts, d.Bump)
	if err != nil {
		return err
	}
	if addr != d.Address {
		return ErrDerivationMismatch
	}
	return nil
}

func cloneParts(parts [][]byte) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = append([]byte(nil), p...)
	}
	return out
}
