package mysterypack

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable numeric identifier of a program error.
type ErrorCode uint32

const (
	CodeInvalidAmount ErrorCode = 6000 + iota
	CodeCampaignNotActive
	CodeSoldOut
	CodeNotPackOwner
	CodeAlreadyClaimed
	CodeInvalidProof
	CodeInvalidMint
	CodeInvalidMintAuthority
	CodeUnauthorized
	CodeInsufficientFunds
)

// ProgramError is a terminal validation failure with a stable code.
type ProgramError struct {
	Code ErrorCode
	Name string
	Msg  string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("mysterypack: %s", e.Msg)
}

var (
	ErrInvalidAmount        = &ProgramError{CodeInvalidAmount, "InvalidAmount", "pack price and total packs must be greater than zero"}
	ErrCampaignNotActive    = &ProgramError{CodeCampaignNotActive, "CampaignNotActive", "campaign is not active"}
	ErrSoldOut              = &ProgramError{CodeSoldOut, "SoldOut", "all packs have been sold"}
	ErrNotPackOwner         = &ProgramError{CodeNotPackOwner, "NotPackOwner", "signer does not own this pack"}
	ErrAlreadyClaimed       = &ProgramError{CodeAlreadyClaimed, "AlreadyClaimed", "pack already claimed"}
	ErrInvalidProof         = &ProgramError{CodeInvalidProof, "InvalidProof", "invalid merkle proof"}
	ErrInvalidMint          = &ProgramError{CodeInvalidMint, "InvalidMint", "reward asset does not match campaign"}
	ErrInvalidMintAuthority = &ProgramError{CodeInvalidMintAuthority, "InvalidMintAuthority", "campaign is not the reward asset's mint authority"}
	ErrUnauthorized         = &ProgramError{CodeUnauthorized, "Unauthorized", "signer is not the campaign authority"}
	ErrInsufficientFunds    = &ProgramError{CodeInsufficientFunds, "InsufficientFunds", "withdrawal exceeds available vault balance"}
)

var programErrors = []*ProgramError{
	ErrInvalidAmount,
	ErrCampaignNotActive,
	ErrSoldOut,
	ErrNotPackOwner,
	ErrAlreadyClaimed,
	ErrInvalidProof,
	ErrInvalidMint,
	ErrInvalidMintAuthority,
	ErrUnauthorized,
	ErrInsufficientFunds,
}

// Host-side failures. These carry no program code.
var (
	errNilState         = errors.New("mysterypack: state not configured")
	errNilLedger        = errors.New("mysterypack: ledger not configured")
	ErrCampaignExists   = errors.New("mysterypack: campaign already initialized")
	ErrCampaignNotFound = errors.New("mysterypack: campaign not found")
	ErrReceiptNotFound  = errors.New("mysterypack: receipt not found")
	ErrReceiptExists    = errors.New("mysterypack: receipt already exists")
	ErrDerivationFailed = errors.New("mysterypack: address derivation failed")
	ErrInvalidSigner    = errors.New("mysterypack: signer authority required")
)

// AsProgramError extracts the program error wrapped in err, if any.
func AsProgramError(err error) (*ProgramError, bool) {
	var perr *ProgramError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// ErrorByCode returns the program error registered under code.
func ErrorByCode(code ErrorCode) (*ProgramError, bool) {
	idx := int(code) - int(CodeInvalidAmount)
	if idx < 0 || idx >= len(programErrors) {
		return nil, false
	}
	return programErrors[idx], true
}
