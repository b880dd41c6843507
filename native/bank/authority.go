package bank

import (
	"errors"
	"fmt"

	"packchain/crypto"
)

var (
	// ErrInvalidAuthority is returned for a zero Authority or a failed
	// construction.
	ErrInvalidAuthority = errors.New("bank: invalid authority")
	// ErrSignerIsDerived is returned when a derived address is presented as a
	// signer. No private key can exist for such an address.
	ErrSignerIsDerived = errors.New("bank: derived address cannot act as signer")
	// ErrProgramMismatch is returned when a derivation belongs to another program.
	ErrProgramMismatch = errors.New("bank: derivation owned by another program")
)

// Authority is the capability to move value out of, or mint on behalf of,
// one address. It can only be obtained from a verified signature or a
// verified derivation, so holding one is proof that the caller may act.
type Authority struct {
	addr    crypto.Address
	derived bool
	ok      bool
}

// SignerAuthority wraps an address whose transaction signature has already
// been verified by the host.
func SignerAuthority(addr crypto.Address) (Authority, error) {
	if addr.IsZero() {
		return Authority{}, ErrInvalidAuthority
	}
	if addr.IsDerived() {
		return Authority{}, ErrSignerIsDerived
	}
	return Authority{addr: addr, ok: true}, nil
}

// DerivedAuthority lets program act for one of its derived addresses. The
// derivation is recomputed; a forged bump or foreign program is rejected.
func DerivedAuthority(program crypto.Address, d crypto.Derivation) (Authority, error) {
	if d.Program != program {
		return Authority{}, ErrProgramMismatch
	}
	if err := crypto.VerifyDerivation(d); err != nil {
		return Authority{}, fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}
	return Authority{addr: d.Address, derived: true, ok: true}, nil
}

// Address returns the address the authority acts for.
func (a Authority) Address() crypto.Address { return a.addr }

// IsDerived reports whether the authority was proven through a derivation.
func (a Authority) IsDerived() bool { return a.derived }

// Valid reports whether the authority was produced by a constructor.
func (a Authority) Valid() bool { return a.ok }
