package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"packchain/core/events"
	"packchain/core/state"
	"packchain/core/types"
	"packchain/crypto"
	"packchain/native/bank"
	"packchain/native/mysterypack"
	"packchain/observability"
	"packchain/observability/logging"
	"packchain/storage"
)

var (
	ErrNilTransaction   = errors.New("core: nil transaction")
	ErrInvalidSignature = errors.New("core: invalid transaction signature")
	ErrInvalidNonce     = errors.New("core: invalid nonce")
)

// TxResult describes a committed transaction.
type TxResult struct {
	Hash      string          `json:"hash"`
	Type      string          `json:"type"`
	Sender    crypto.Address  `json:"sender"`
	Nonce     uint64          `json:"nonce"`
	Address   *crypto.Address `json:"address,omitempty"`
	PackIndex *uint32         `json:"packIndex,omitempty"`
	Amount    *uint64         `json:"amount,omitempty"`
	Events    []types.Event   `json:"events"`
}

// Executor applies signed transactions to the ledger one at a time. Each
// transaction commits fully or leaves no trace; events reach the configured
// emitter only after the commit succeeded.
type Executor struct {
	mu      sync.Mutex
	state   *state.Manager
	bank    *bank.Bank
	packs   *mysterypack.Engine
	pending *events.Buffer
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.PackMetrics
}

// NewExecutor wires the ledger, bank and mystery pack engine over db.
func NewExecutor(db storage.Database) *Executor {
	st := state.NewManager(db)
	pending := &events.Buffer{}

	b := bank.NewBank(st)
	b.SetEmitter(pending)

	packs := mysterypack.NewEngine()
	packs.SetState(st)
	packs.SetLedger(b)
	packs.SetEmitter(pending)

	return &Executor{
		state:   st,
		bank:    b,
		packs:   packs,
		pending: pending,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("packchain/core"),
		metrics: observability.Pack(),
	}
}

// SetEmitter configures where committed events are published. Passing nil
// resets the emitter to a no-op implementation.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the logger. Nil restores slog.Default().
func (e *Executor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetReserve configures the minimum balance every campaign vault keeps.
func (e *Executor) SetReserve(reserve uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packs.SetReserve(reserve)
}

// Bank exposes the value-movement module, mainly for genesis.
func (e *Executor) Bank() *bank.Bank { return e.bank }

// State exposes the state manager, mainly for genesis.
func (e *Executor) State() *state.Manager { return e.state }

// Apply verifies, executes and commits one transaction.
func (e *Executor) Apply(ctx context.Context, tx *types.Transaction) (*TxResult, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}
	start := time.Now()
	_, span := e.tracer.Start(ctx, "packchain.apply_transaction",
		trace.WithAttributes(attribute.String("tx.type", tx.Type.String())))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.apply(tx)
	if err == nil {
		err = e.state.Commit()
	}
	if err != nil {
		e.state.Discard()
		e.pending.Reset()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveTransaction(tx.Type.String(), time.Since(start), err)
		e.logger.Debug("transaction rejected", rejectionAttrs(tx, err)...)
		return nil, err
	}

	published := e.pending.Flush(e.emitter)
	result.Events = events.Canonical(published)
	for _, evt := range published {
		observability.Events().RecordEvent(evt.EventType())
	}
	e.recordOutcome(tx.Type, result)
	span.SetAttributes(attribute.String("tx.hash", result.Hash))
	span.SetStatus(codes.Ok, "committed")
	e.metrics.ObserveTransaction(tx.Type.String(), time.Since(start), nil)
	e.logger.Info("transaction committed",
		slog.String("tx", result.Hash),
		slog.String("type", result.Type),
		slog.String("sender", result.Sender.String()),
		slog.Int("events", len(result.Events)))
	return result, nil
}

func rejectionAttrs(tx *types.Transaction, err error) []any {
	attrs := []any{
		slog.String("type", tx.Type.String()),
		slog.Uint64("nonce", tx.Nonce),
		slog.String("error", err.Error()),
	}
	if tx.Type == types.TxTypeClaimPack {
		var p types.ClaimPackPayload
		if tx.DecodePayload(&p) == nil {
			attrs = append(attrs,
				slog.String("receipt", p.Receipt.String()),
				logging.MaskField("salt", hexutil.Encode(p.Salt[:])))
		}
	}
	return attrs
}

func (e *Executor) recordOutcome(txType types.TxType, result *TxResult) {
	switch txType {
	case types.TxTypePurchasePack:
		e.metrics.RecordPackSold()
	case types.TxTypeClaimPack:
		e.metrics.RecordMinted(*result.Amount)
	case types.TxTypeWithdrawAdmin:
		e.metrics.RecordWithdrawn(*result.Amount)
	}
}

func (e *Executor) apply(tx *types.Transaction) (*TxResult, error) {
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownTxType, tx.Type)
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sender, err := tx.Sender()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	expected, err := e.state.Nonce(sender)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != expected {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, expected, tx.Nonce)
	}
	auth, err := bank.SignerAuthority(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := &TxResult{
		Hash:   hexutil.Encode(hash[:]),
		Type:   tx.Type.String(),
		Sender: sender,
		Nonce:  tx.Nonce,
	}
	if err := e.dispatch(tx, auth, result); err != nil {
		return nil, err
	}
	if err := e.state.SetNonce(sender, expected+1); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) dispatch(tx *types.Transaction, auth bank.Authority, result *TxResult) error {
	sender := auth.Address()
	switch tx.Type {
	case types.TxTypeTransfer:
		var p types.TransferPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		return e.bank.Transfer(auth, sender, p.To, p.Amount)

	case types.TxTypeRegisterAsset:
		var p types.RegisterAssetPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		asset, err := e.bank.RegisterAsset(sender, p.Symbol, p.Decimals, p.MintAuthority)
		if err != nil {
			return err
		}
		result.Address = &asset
		return nil

	case types.TxTypeSetMintPaused:
		var p types.SetMintPausedPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		if err := e.bank.SetMintPaused(p.Asset, auth, p.Paused); err != nil {
			return err
		}
		asset := p.Asset
		result.Address = &asset
		return nil

	case types.TxTypeInitializeCampaign:
		var p types.InitializeCampaignPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		_, addr, err := e.packs.InitializeCampaign(auth, mysterypack.InitParams{
			Seed:        p.Seed,
			MerkleRoot:  p.MerkleRoot,
			PackPrice:   p.PackPrice,
			TotalPacks:  p.TotalPacks,
			RewardAsset: p.RewardAsset,
		})
		if err != nil {
			return err
		}
		result.Address = &addr
		return nil

	case types.TxTypePurchasePack:
		var p types.PurchasePackPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		receipt, addr, err := e.packs.PurchasePack(p.Campaign, auth)
		if err != nil {
			return err
		}
		index := receipt.PackIndex
		result.Address = &addr
		result.PackIndex = &index
		return nil

	case types.TxTypeClaimPack:
		var p types.ClaimPackPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		claim := mysterypack.Claim{Amount: p.Amount, Salt: p.Salt, Proof: p.Proof, Asset: p.Asset}
		if err := e.packs.ClaimPack(p.Receipt, auth, claim); err != nil {
			return err
		}
		amount := p.Amount
		result.Amount = &amount
		return nil

	case types.TxTypeCloseCampaign:
		var p types.CloseCampaignPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		return e.packs.CloseCampaign(p.Campaign, auth)

	case types.TxTypeWithdrawAdmin:
		var p types.WithdrawAdminPayload
		if err := tx.DecodePayload(&p); err != nil {
			return err
		}
		var requested *uint64
		if !p.All {
			amount := p.Amount
			requested = &amount
		}
		withdrawn, err := e.packs.WithdrawAdmin(p.Campaign, auth, requested)
		if err != nil {
			return err
		}
		result.Amount = &withdrawn
		return nil
	}
	return fmt.Errorf("%w: %s", types.ErrUnknownTxType, tx.Type)
}

// Nonce returns the next nonce expected from addr.
func (e *Executor) Nonce(addr crypto.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Nonce(addr)
}

// NativeBalance returns the committed native balance of addr.
func (e *Executor) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.NativeBalance(addr)
}

// AssetBalance returns the committed balance of asset held by addr.
func (e *Executor) AssetBalance(asset, addr crypto.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.AssetBalance(asset, addr)
}

// Asset returns the metadata of a registered asset.
func (e *Executor) Asset(asset crypto.Address) (*state.AssetMetadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.Asset(asset)
}

// Campaign returns the committed campaign stored at addr.
func (e *Executor) Campaign(addr crypto.Address) (*mysterypack.Campaign, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.packs.Campaign(addr)
}

// Receipt returns the committed receipt stored at addr.
func (e *Executor) Receipt(addr crypto.Address) (*mysterypack.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.packs.Receipt(addr)
}

// Vault reports the custody balance of a campaign.
func (e *Executor) Vault(campaign crypto.Address) (*mysterypack.VaultInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.packs.Vault(campaign)
}

// ProgramID returns the address the mystery pack program derives under.
func (e *Executor) ProgramID() crypto.Address { return e.packs.ProgramID() }
