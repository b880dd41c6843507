package rpc

import (
	"errors"
	"net/http"

	"packchain/core"
	"packchain/core/types"
	"packchain/indexer"
	"packchain/native/bank"
	"packchain/native/mysterypack"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
	codeConflict       = -32009
	codeRateLimited    = -32020
	codeInsufficient   = -32030
	codeUnavailable    = -32050
)

// rpcFailure pairs a JSON-RPC error with the HTTP status it is served with.
type rpcFailure struct {
	status int
	err    *RPCError
}

func failure(status, code int, message string, data interface{}) *rpcFailure {
	return &rpcFailure{status: status, err: &RPCError{Code: code, Message: message, Data: data}}
}

func invalidParams(message string, err error) *rpcFailure {
	var data interface{}
	if err != nil {
		data = err.Error()
	}
	return failure(http.StatusBadRequest, codeInvalidParams, message, data)
}

// executionFailure maps ledger errors onto JSON-RPC errors. Program errors
// keep their numeric code so clients can match on it.
func executionFailure(err error) *rpcFailure {
	if perr, ok := mysterypack.AsProgramError(err); ok {
		return failure(http.StatusBadRequest, int(perr.Code), perr.Name, perr.Msg)
	}
	switch {
	case errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrInvalidNonce),
		errors.Is(err, core.ErrNilTransaction),
		errors.Is(err, types.ErrUnknownTxType),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, mysterypack.ErrInvalidSigner),
		errors.Is(err, bank.ErrInvalidAuthority),
		errors.Is(err, bank.ErrSignerIsDerived),
		errors.Is(err, bank.ErrInvalidSymbol),
		errors.Is(err, bank.ErrInvalidDecimals),
		errors.Is(err, bank.ErrInvalidMintAuthority),
		errors.Is(err, bank.ErrZeroRecipient),
		errors.Is(err, bank.ErrAuthorityMismatch):
		return failure(http.StatusBadRequest, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, mysterypack.ErrCampaignNotFound),
		errors.Is(err, mysterypack.ErrReceiptNotFound),
		errors.Is(err, bank.ErrUnknownAsset),
		errors.Is(err, indexer.ErrNotFound):
		return failure(http.StatusNotFound, codeNotFound, err.Error(), nil)
	case errors.Is(err, mysterypack.ErrCampaignExists),
		errors.Is(err, mysterypack.ErrReceiptExists),
		errors.Is(err, bank.ErrAssetExists):
		return failure(http.StatusConflict, codeConflict, err.Error(), nil)
	case errors.Is(err, bank.ErrInsufficientBalance),
		errors.Is(err, bank.ErrBalanceOverflow),
		errors.Is(err, bank.ErrSupplyOverflow),
		errors.Is(err, bank.ErrMintPaused):
		return failure(http.StatusBadRequest, codeInsufficient, err.Error(), nil)
	}
	return failure(http.StatusInternalServerError, codeServerError, "internal error", err.Error())
}
