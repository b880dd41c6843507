package mysterypack

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/holiman/uint256"

	"packchain/core/events"
	"packchain/core/merkle"
	"packchain/core/state"
	"packchain/core/types"
	"packchain/crypto"
	"packchain/native/bank"
)

type engineState interface {
	Snapshot() int
	RevertToSnapshot(id int)
	CampaignRecord(addr crypto.Address) ([]byte, bool, error)
	CreateCampaignRecord(addr crypto.Address, raw []byte) error
	PutCampaignRecord(addr crypto.Address, raw []byte) error
	ReceiptRecord(addr crypto.Address) ([]byte, bool, error)
	CreateReceiptRecord(addr crypto.Address, raw []byte) error
	PutReceiptRecord(addr crypto.Address, raw []byte) error
}

type engineLedger interface {
	NativeBalance(addr crypto.Address) (*uint256.Int, error)
	Asset(asset crypto.Address) (*state.AssetMetadata, error)
	Transfer(auth bank.Authority, from, to crypto.Address, amount uint64) error
	MintTo(asset crypto.Address, auth bank.Authority, to crypto.Address, amount uint64) error
}

// Engine runs the campaign lifecycle: initialize, purchase, claim, close and
// withdraw. Every operation holds the engine lock and runs inside a state
// snapshot that is reverted on failure.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	ledger  engineLedger
	emitter events.Emitter
	program crypto.Address
	reserve uint64
}

// NewEngine creates an engine with a no-op emitter, the default program id and
// the default vault reserve.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		program: ProgramID,
		reserve: DefaultReserve,
	}
}

// SetState configures the record store used by the engine.
func (e *Engine) SetState(st engineState) { e.state = st }

// SetLedger configures the value-movement and mint backend.
func (e *Engine) SetLedger(ledger engineLedger) { e.ledger = ledger }

// SetReserve overrides the minimum custody balance kept in every vault.
func (e *Engine) SetReserve(reserve uint64) { e.reserve = reserve }

// Reserve returns the configured vault reserve.
func (e *Engine) Reserve() uint64 { return e.reserve }

// SetProgramID overrides the program address accounts are derived under.
func (e *Engine) SetProgramID(program crypto.Address) { e.program = program }

// ProgramID returns the program address accounts are derived under.
func (e *Engine) ProgramID() crypto.Address { return e.program }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(packEvent{evt: event})
}

func (e *Engine) ready() error {
	if e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

// atomically runs fn under the engine lock inside a state snapshot.
func (e *Engine) atomically(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	snap := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func requireSigner(auth bank.Authority) error {
	if !auth.Valid() || auth.IsDerived() {
		return ErrInvalidSigner
	}
	return nil
}

func (e *Engine) loadCampaign(addr crypto.Address) (*Campaign, error) {
	raw, ok, err := e.state.CampaignRecord(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, addr)
	}
	return DecodeCampaign(raw)
}

func (e *Engine) storeCampaign(addr crypto.Address, c *Campaign) error {
	return e.state.PutCampaignRecord(addr, EncodeCampaign(c))
}

func (e *Engine) loadReceipt(addr crypto.Address) (*Receipt, error) {
	raw, ok, err := e.state.ReceiptRecord(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, addr)
	}
	return DecodeReceipt(raw)
}

func (e *Engine) vaultAddress(campaign crypto.Address, c *Campaign) (crypto.Address, error) {
	addr, err := crypto.CreateDerivedAddress(e.program, RoleVault, [][]byte{campaign[:]}, c.VaultBump)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: vault: %v", ErrDerivationFailed, err)
	}
	return addr, nil
}

// InitializeCampaign creates the campaign derived from params.Seed with the
// signer as its authority. The campaign address must already be the mint
// authority of the reward asset.
func (e *Engine) InitializeCampaign(authority bank.Authority, params InitParams) (*Campaign, crypto.Address, error) {
	var (
		created *Campaign
		addr    crypto.Address
	)
	err := e.atomically(func() error {
		if err := requireSigner(authority); err != nil {
			return err
		}
		if params.PackPrice == 0 || params.TotalPacks == 0 {
			return ErrInvalidAmount
		}
		addrs, err := DeriveAddresses(e.program, params.Seed)
		if err != nil {
			return err
		}
		meta, err := e.ledger.Asset(params.RewardAsset)
		if errors.Is(err, bank.ErrUnknownAsset) || (err == nil && meta == nil) {
			return ErrInvalidMint
		}
		if err != nil {
			return err
		}
		if meta.MintAuthority != addrs.Campaign {
			return ErrInvalidMintAuthority
		}

		c := &Campaign{
			Seed:        params.Seed,
			Authority:   authority.Address(),
			RewardAsset: params.RewardAsset,
			PackPrice:   params.PackPrice,
			TotalPacks:  params.TotalPacks,
			MerkleRoot:  params.MerkleRoot,
			IsActive:    true,
			Bump:        addrs.CampaignBump,
			VaultBump:   addrs.VaultBump,
		}
		if err := e.state.CreateCampaignRecord(addrs.Campaign, EncodeCampaign(c)); err != nil {
			if errors.Is(err, state.ErrRecordExists) {
				return fmt.Errorf("%w: seed %d", ErrCampaignExists, params.Seed)
			}
			return err
		}
		e.emit(NewCampaignInitializedEvent(addrs.Campaign, addrs.Vault, c))
		created, addr = c, addrs.Campaign
		return nil
	})
	if err != nil {
		return nil, crypto.Address{}, err
	}
	return created.Clone(), addr, nil
}

// PurchasePack sells the next pack to buyer. The pack price moves from the
// buyer to the vault and the receipt takes the pre-increment sold count as
// its pack index.
func (e *Engine) PurchasePack(campaign crypto.Address, buyer bank.Authority) (*Receipt, crypto.Address, error) {
	var (
		receipt *Receipt
		addr    crypto.Address
	)
	err := e.atomically(func() error {
		if err := requireSigner(buyer); err != nil {
			return err
		}
		c, err := e.loadCampaign(campaign)
		if err != nil {
			return err
		}
		if !c.IsActive {
			return ErrCampaignNotActive
		}
		if c.SoldOut() {
			return ErrSoldOut
		}
		vault, err := e.vaultAddress(campaign, c)
		if err != nil {
			return err
		}
		rd, err := ReceiptDerivation(e.program, campaign, c.PacksSold)
		if err != nil {
			return err
		}

		if err := e.ledger.Transfer(buyer, buyer.Address(), vault, c.PackPrice); err != nil {
			return fmt.Errorf("mysterypack: pay for pack: %w", err)
		}
		r := &Receipt{
			Campaign:  campaign,
			Buyer:     buyer.Address(),
			PackIndex: c.PacksSold,
		}
		if err := e.state.CreateReceiptRecord(rd.Address, EncodeReceipt(r)); err != nil {
			if errors.Is(err, state.ErrRecordExists) {
				return fmt.Errorf("%w: pack %d", ErrReceiptExists, r.PackIndex)
			}
			return err
		}
		c.PacksSold++
		if err := e.storeCampaign(campaign, c); err != nil {
			return err
		}
		e.emit(NewPackPurchasedEvent(rd.Address, r, c.PackPrice))
		receipt, addr = r, rd.Address
		return nil
	})
	if err != nil {
		return nil, crypto.Address{}, err
	}
	return receipt.Clone(), addr, nil
}

// ClaimPack reveals the reward of a purchased pack. The proof must place
// leaf(packIndex, amount, salt) under the campaign's merkle root. The reward
// is minted under the campaign's own authority and the receipt is marked
// claimed afterwards.
func (e *Engine) ClaimPack(receiptAddr crypto.Address, buyer bank.Authority, claim Claim) error {
	return e.atomically(func() error {
		if err := requireSigner(buyer); err != nil {
			return err
		}
		r, err := e.loadReceipt(receiptAddr)
		if err != nil {
			return err
		}
		c, err := e.loadCampaign(r.Campaign)
		if err != nil {
			return err
		}
		if r.Buyer != buyer.Address() {
			return ErrNotPackOwner
		}
		if r.IsClaimed {
			return ErrAlreadyClaimed
		}
		if claim.Asset != nil && *claim.Asset != c.RewardAsset {
			return ErrInvalidMint
		}
		leaf := merkle.Leaf(r.PackIndex, claim.Amount, claim.Salt)
		if !merkle.Verify(claim.Proof, c.MerkleRoot, leaf, r.PackIndex) {
			return ErrInvalidProof
		}

		mintAuth, err := bank.DerivedAuthority(e.program, campaignDerivationFromRecord(e.program, r.Campaign, c))
		if err != nil {
			return fmt.Errorf("%w: campaign authority: %v", ErrDerivationFailed, err)
		}
		if err := e.ledger.MintTo(c.RewardAsset, mintAuth, buyer.Address(), claim.Amount); err != nil {
			switch {
			case errors.Is(err, bank.ErrUnknownAsset):
				return ErrInvalidMint
			case errors.Is(err, bank.ErrInvalidMintAuthority):
				return ErrInvalidMintAuthority
			}
			return fmt.Errorf("mysterypack: mint reward: %w", err)
		}
		r.IsClaimed = true
		if err := e.state.PutReceiptRecord(receiptAddr, EncodeReceipt(r)); err != nil {
			return err
		}
		e.emit(NewPackClaimedEvent(receiptAddr, r, c.RewardAsset, claim.Amount))
		return nil
	})
}

// CloseCampaign stops future purchases. Sold packs stay claimable.
func (e *Engine) CloseCampaign(campaign crypto.Address, authority bank.Authority) error {
	return e.atomically(func() error {
		c, err := e.loadCampaign(campaign)
		if err != nil {
			return err
		}
		if !authority.Valid() || authority.Address() != c.Authority {
			return ErrUnauthorized
		}
		if !c.IsActive {
			return ErrCampaignNotActive
		}
		c.IsActive = false
		if err := e.storeCampaign(campaign, c); err != nil {
			return err
		}
		e.emit(NewCampaignClosedEvent(campaign, c))
		return nil
	})
}

// WithdrawAdmin moves escrowed proceeds from the vault to the campaign
// authority. A nil amount withdraws everything above the reserve. It returns
// the amount withdrawn.
func (e *Engine) WithdrawAdmin(campaign crypto.Address, authority bank.Authority, amount *uint64) (uint64, error) {
	var withdrawn uint64
	err := e.atomically(func() error {
		c, err := e.loadCampaign(campaign)
		if err != nil {
			return err
		}
		if !authority.Valid() || authority.Address() != c.Authority {
			return ErrUnauthorized
		}
		vault, err := e.vaultAddress(campaign, c)
		if err != nil {
			return err
		}
		balance, err := e.ledger.NativeBalance(vault)
		if err != nil {
			return err
		}
		available := Available(balance, uint256.NewInt(e.reserve))

		var value uint64
		if amount == nil {
			value = math.MaxUint64
			if available.IsUint64() {
				value = available.Uint64()
			}
		} else {
			if uint256.NewInt(*amount).Gt(available) {
				return fmt.Errorf("%w: requested %d, available %s", ErrInsufficientFunds, *amount, available.Dec())
			}
			value = *amount
		}

		if value > 0 {
			vaultAuth, err := bank.DerivedAuthority(e.program, vaultDerivationFromRecord(e.program, campaign, vault, c))
			if err != nil {
				return fmt.Errorf("%w: vault authority: %v", ErrDerivationFailed, err)
			}
			if err := e.ledger.Transfer(vaultAuth, vault, c.Authority, value); err != nil {
				return fmt.Errorf("mysterypack: withdraw: %w", err)
			}
		}
		e.emit(NewVaultWithdrawnEvent(campaign, vault, c.Authority, value))
		withdrawn = value
		return nil
	})
	if err != nil {
		return 0, err
	}
	return withdrawn, nil
}

// Campaign returns the campaign stored at addr.
func (e *Engine) Campaign(addr crypto.Address) (*Campaign, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadCampaign(addr)
}

// Receipt returns the receipt stored at addr.
func (e *Engine) Receipt(addr crypto.Address) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadReceipt(addr)
}

// Vault reports the custody balance of a campaign.
func (e *Engine) Vault(campaign crypto.Address) (*VaultInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	c, err := e.loadCampaign(campaign)
	if err != nil {
		return nil, err
	}
	vault, err := e.vaultAddress(campaign, c)
	if err != nil {
		return nil, err
	}
	balance, err := e.ledger.NativeBalance(vault)
	if err != nil {
		return nil, err
	}
	reserve := uint256.NewInt(e.reserve)
	return &VaultInfo{
		Address:   vault,
		Bump:      c.VaultBump,
		Balance:   balance,
		Reserve:   reserve,
		Available: Available(balance, reserve),
	}, nil
}
