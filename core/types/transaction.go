package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"packchain/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer           TxType = 0x01 // Native value transfer between signers
	TxTypeRegisterAsset      TxType = 0x02 // Register a mintable reward asset
	TxTypeSetMintPaused      TxType = 0x03 // Pause or resume minting of an asset
	TxTypeInitializeCampaign TxType = 0x10
	TxTypePurchasePack       TxType = 0x11
	TxTypeClaimPack          TxType = 0x12
	TxTypeCloseCampaign      TxType = 0x13
	TxTypeWithdrawAdmin      TxType = 0x14
)

var (
	ErrMissingSignature = errors.New("types: transaction is not signed")
	ErrUnknownTxType    = errors.New("types: unknown transaction type")
)

var txTypeNames = map[TxType]string{
	TxTypeTransfer:           "transfer",
	TxTypeRegisterAsset:      "register_asset",
	TxTypeSetMintPaused:      "set_mint_paused",
	TxTypeInitializeCampaign: "initialize_campaign",
	TxTypePurchasePack:       "purchase_pack",
	TxTypeClaimPack:          "claim_pack",
	TxTypeCloseCampaign:      "close_campaign",
	TxTypeWithdrawAdmin:      "withdraw_admin",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Valid reports whether the type is one the executor can dispatch.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

// Transaction carries one signed instruction. Payload is the RLP encoding of
// the payload struct matching Type.
type Transaction struct {
	Type      TxType        `json:"type"`
	Nonce     uint64        `json:"nonce"`
	Payload   hexutil.Bytes `json:"payload"`
	Signature hexutil.Bytes `json:"signature,omitempty"`

	from *crypto.Address
}

// NewTransaction encodes payload and returns an unsigned transaction.
func NewTransaction(txType TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxType, txType)
	}
	raw, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", txType, err)
	}
	return &Transaction{Type: txType, Nonce: nonce, Payload: raw}, nil
}

// Hash is keccak256(rlp([type, nonce, payload])). The signature is not part
// of the hash.
func (tx *Transaction) Hash() ([32]byte, error) {
	var out [32]byte
	encoded, err := rlp.EncodeToBytes([]interface{}{uint8(tx.Type), tx.Nonce, []byte(tx.Payload)})
	if err != nil {
		return out, err
	}
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash[:])
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.from = nil
	return nil
}

// Sender recovers the signing address. The result is cached.
func (tx *Transaction) Sender() (crypto.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if len(tx.Signature) == 0 {
		return crypto.Address{}, ErrMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.RecoverAddress(hash[:], tx.Signature)
	if err != nil {
		return crypto.Address{}, err
	}
	tx.from = &addr
	return addr, nil
}

// DecodePayload decodes the payload into out, which must be a pointer to the
// payload struct matching the transaction type.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if err := rlp.DecodeBytes(tx.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}
