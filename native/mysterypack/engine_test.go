package mysterypack

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/holiman/uint256"

	"packchain/core/events"
	"packchain/core/merkle"
	"packchain/core/state"
	"packchain/core/types"
	"packchain/crypto"
	"packchain/native/bank"
)

type mockSnapshot struct {
	campaigns map[crypto.Address][]byte
	receipts  map[crypto.Address][]byte
	native    map[crypto.Address]uint64
	assets    map[crypto.Address]state.AssetMetadata
	minted    map[[2]crypto.Address]uint64
}

// mockState implements both the record store and the ledger so snapshots
// cover value movement as well as records.
type mockState struct {
	campaigns map[crypto.Address][]byte
	receipts  map[crypto.Address][]byte
	native    map[crypto.Address]uint64
	assets    map[crypto.Address]state.AssetMetadata
	minted    map[[2]crypto.Address]uint64
	snapshots []mockSnapshot
	failMint  error
	mints     int
	transfers int
}

func newMockState() *mockState {
	return &mockState{
		campaigns: make(map[crypto.Address][]byte),
		receipts:  make(map[crypto.Address][]byte),
		native:    make(map[crypto.Address]uint64),
		assets:    make(map[crypto.Address]state.AssetMetadata),
		minted:    make(map[[2]crypto.Address]uint64),
	}
}

func (m *mockState) copyState() mockSnapshot {
	snap := mockSnapshot{
		campaigns: make(map[crypto.Address][]byte, len(m.campaigns)),
		receipts:  make(map[crypto.Address][]byte, len(m.receipts)),
		native:    make(map[crypto.Address]uint64, len(m.native)),
		assets:    make(map[crypto.Address]state.AssetMetadata, len(m.assets)),
		minted:    make(map[[2]crypto.Address]uint64, len(m.minted)),
	}
	for k, v := range m.campaigns {
		snap.campaigns[k] = append([]byte(nil), v...)
	}
	for k, v := range m.receipts {
		snap.receipts[k] = append([]byte(nil), v...)
	}
	for k, v := range m.native {
		snap.native[k] = v
	}
	for k, v := range m.assets {
		v.Supply = v.Supply.Clone()
		snap.assets[k] = v
	}
	for k, v := range m.minted {
		snap.minted[k] = v
	}
	return snap
}

func (m *mockState) Snapshot() int {
	m.snapshots = append(m.snapshots, m.copyState())
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(id int) {
	snap := m.snapshots[id]
	m.campaigns = snap.campaigns
	m.receipts = snap.receipts
	m.native = snap.native
	m.assets = snap.assets
	m.minted = snap.minted
	m.snapshots = m.snapshots[:id]
}

func (m *mockState) CampaignRecord(addr crypto.Address) ([]byte, bool, error) {
	raw, ok := m.campaigns[addr]
	return append([]byte(nil), raw...), ok, nil
}

func (m *mockState) CreateCampaignRecord(addr crypto.Address, raw []byte) error {
	if _, ok := m.campaigns[addr]; ok {
		return state.ErrRecordExists
	}
	m.campaigns[addr] = append([]byte(nil), raw...)
	return nil
}

func (m *mockState) PutCampaignRecord(addr crypto.Address, raw []byte) error {
	if _, ok := m.campaigns[addr]; !ok {
		return state.ErrRecordNotFound
	}
	m.campaigns[addr] = append([]byte(nil), raw...)
	return nil
}

func (m *mockState) ReceiptRecord(addr crypto.Address) ([]byte, bool, error) {
	raw, ok := m.receipts[addr]
	return append([]byte(nil), raw...), ok, nil
}

func (m *mockState) CreateReceiptRecord(addr crypto.Address, raw []byte) error {
	if _, ok := m.receipts[addr]; ok {
		return state.ErrRecordExists
	}
	m.receipts[addr] = append([]byte(nil), raw...)
	return nil
}

func (m *mockState) PutReceiptRecord(addr crypto.Address, raw []byte) error {
	if _, ok := m.receipts[addr]; !ok {
		return state.ErrRecordNotFound
	}
	m.receipts[addr] = append([]byte(nil), raw...)
	return nil
}

func (m *mockState) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	return uint256.NewInt(m.native[addr]), nil
}

func (m *mockState) Asset(asset crypto.Address) (*state.AssetMetadata, error) {
	meta, ok := m.assets[asset]
	if !ok {
		return nil, bank.ErrUnknownAsset
	}
	return &meta, nil
}

func (m *mockState) Transfer(auth bank.Authority, from, to crypto.Address, amount uint64) error {
	if !auth.Valid() || auth.Address() != from {
		return bank.ErrAuthorityMismatch
	}
	if m.native[from] < amount {
		return bank.ErrInsufficientBalance
	}
	m.native[from] -= amount
	m.native[to] += amount
	m.transfers++
	return nil
}

func (m *mockState) MintTo(asset crypto.Address, auth bank.Authority, to crypto.Address, amount uint64) error {
	if m.failMint != nil {
		return m.failMint
	}
	meta, ok := m.assets[asset]
	if !ok {
		return bank.ErrUnknownAsset
	}
	if !auth.Valid() || auth.Address() != meta.MintAuthority {
		return bank.ErrInvalidMintAuthority
	}
	m.minted[[2]crypto.Address{asset, to}] += amount
	m.mints++
	return nil
}

func (m *mockState) balanceOf(asset, holder crypto.Address) uint64 {
	return m.minted[[2]crypto.Address{asset, holder}]
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) typesEvents() []*types.Event {
	out := make([]*types.Event, 0, len(c.events))
	for _, evt := range c.events {
		if wrapper, ok := evt.(packEvent); ok && wrapper.evt != nil {
			out = append(out, wrapper.evt)
		}
	}
	return out
}

func newTestAddress(fill byte) crypto.Address {
	var addr crypto.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, crypto.AddressLength))
	addr[0] &^= 0x80
	return addr
}

func newSigner(t *testing.T, fill byte) bank.Authority {
	t.Helper()
	auth, err := bank.SignerAuthority(newTestAddress(fill))
	if err != nil {
		t.Fatalf("signer authority: %v", err)
	}
	return auth
}

func newTestEngine(st *mockState) (*Engine, *capturingEmitter) {
	engine := NewEngine()
	engine.SetState(st)
	engine.SetLedger(st)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	return engine, emitter
}

func testSalt(i int) [32]byte {
	var salt [32]byte
	for j := range salt {
		salt[j] = byte(0x40 + i + j)
	}
	return salt
}

type rewardSet struct {
	amounts []uint64
	salts   [][32]byte
	tree    *merkle.Tree
}

func newRewardSet(t *testing.T, amounts ...uint64) *rewardSet {
	t.Helper()
	rs := &rewardSet{amounts: amounts}
	leaves := make([][32]byte, len(amounts))
	for i, amount := range amounts {
		salt := testSalt(i)
		rs.salts = append(rs.salts, salt)
		leaves[i] = merkle.Leaf(uint32(i), amount, salt)
	}
	tree, err := merkle.NewTree(leaves)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	rs.tree = tree
	return rs
}

func (rs *rewardSet) claim(t *testing.T, index uint32) Claim {
	t.Helper()
	proof, err := rs.tree.Proof(index)
	if err != nil {
		t.Fatalf("proof %d: %v", index, err)
	}
	return Claim{Amount: rs.amounts[index], Salt: rs.salts[index], Proof: proof}
}

// registerRewardAsset installs an asset whose mint authority is the campaign
// derived from seed.
func registerRewardAsset(t *testing.T, st *mockState, seed uint64) crypto.Address {
	t.Helper()
	addrs, err := DeriveAddresses(ProgramID, seed)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	asset := crypto.ProgramAddress(fmt.Sprintf("asset-%d", seed))
	st.assets[asset] = state.AssetMetadata{Symbol: "GEM", MintAuthority: addrs.Campaign, Supply: uint256.NewInt(0)}
	return asset
}

func initCampaign(t *testing.T, engine *Engine, st *mockState, authority bank.Authority, seed uint64, price uint64, rs *rewardSet) (crypto.Address, crypto.Address) {
	t.Helper()
	asset := registerRewardAsset(t, st, seed)
	_, addr, err := engine.InitializeCampaign(authority, InitParams{
		Seed:        seed,
		MerkleRoot:  rs.tree.Root(),
		PackPrice:   price,
		TotalPacks:  uint32(rs.tree.Len()),
		RewardAsset: asset,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return addr, asset
}

func mustCampaign(t *testing.T, engine *Engine, addr crypto.Address) *Campaign {
	t.Helper()
	c, err := engine.Campaign(addr)
	if err != nil {
		t.Fatalf("load campaign: %v", err)
	}
	return c
}

func mustReceipt(t *testing.T, engine *Engine, addr crypto.Address) *Receipt {
	t.Helper()
	r, err := engine.Receipt(addr)
	if err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	return r
}

func TestInitializeCampaign(t *testing.T) {
	st := newMockState()
	engine, emitter := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 10, 20, 30)

	addr, asset := initCampaign(t, engine, st, authority, 42, 100, rs)
	expected, err := DeriveAddresses(ProgramID, 42)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if addr != expected.Campaign {
		t.Fatalf("campaign address mismatch: %s vs %s", addr, expected.Campaign)
	}
	c := mustCampaign(t, engine, addr)
	if c.Authority != authority.Address() || c.RewardAsset != asset {
		t.Fatalf("unexpected identities: %+v", c)
	}
	if c.PacksSold != 0 || !c.IsActive || c.TotalPacks != 3 || c.PackPrice != 100 {
		t.Fatalf("unexpected counters: %+v", c)
	}
	if c.Bump != expected.CampaignBump || c.VaultBump != expected.VaultBump {
		t.Fatalf("bumps not recorded: %+v", c)
	}
	if c.MerkleRoot != rs.tree.Root() {
		t.Fatalf("merkle root not recorded")
	}
	vault, err := engine.Vault(addr)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Address != expected.Vault || !vault.Balance.IsZero() {
		t.Fatalf("unexpected vault: %+v", vault)
	}

	evts := emitter.typesEvents()
	if len(evts) != 1 || evts[0].Type != EventTypeCampaignInitialized {
		t.Fatalf("expected one initialized event, got %+v", evts)
	}
	if evts[0].Attributes["vault"] != expected.Vault.String() {
		t.Fatalf("event vault mismatch: %s", evts[0].Attributes["vault"])
	}

	_, _, err = engine.InitializeCampaign(newSigner(t, 0x02), InitParams{
		Seed: 42, MerkleRoot: rs.tree.Root(), PackPrice: 1, TotalPacks: 1, RewardAsset: asset,
	})
	if !errors.Is(err, ErrCampaignExists) {
		t.Fatalf("expected ErrCampaignExists, got %v", err)
	}
	if got := mustCampaign(t, engine, addr); got.Authority != authority.Address() {
		t.Fatalf("re-initialization changed authority")
	}
}

func TestInitializeCampaignValidations(t *testing.T) {
	st := newMockState()
	engine, emitter := newTestEngine(st)
	authority := newSigner(t, 0x01)
	asset := registerRewardAsset(t, st, 7)
	foreign := crypto.ProgramAddress("foreign-asset")
	st.assets[foreign] = state.AssetMetadata{Symbol: "XYZ", MintAuthority: newTestAddress(0x09), Supply: uint256.NewInt(0)}
	vaultDerived, err := crypto.Derive(ProgramID, RoleVault, []byte("x"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	cases := []struct {
		name   string
		signer bank.Authority
		params InitParams
		want   error
	}{
		{"zero price", authority, InitParams{Seed: 7, PackPrice: 0, TotalPacks: 5, RewardAsset: asset}, ErrInvalidAmount},
		{"zero supply", authority, InitParams{Seed: 7, PackPrice: 10, TotalPacks: 0, RewardAsset: asset}, ErrInvalidAmount},
		{"unknown asset", authority, InitParams{Seed: 7, PackPrice: 10, TotalPacks: 5, RewardAsset: crypto.ProgramAddress("missing")}, ErrInvalidMint},
		{"foreign mint authority", authority, InitParams{Seed: 7, PackPrice: 10, TotalPacks: 5, RewardAsset: foreign}, ErrInvalidMintAuthority},
		{"unsigned", bank.Authority{}, InitParams{Seed: 7, PackPrice: 10, TotalPacks: 5, RewardAsset: asset}, ErrInvalidSigner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := engine.InitializeCampaign(tc.signer, tc.params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	derivedAuth, err := bank.DerivedAuthority(ProgramID, vaultDerived)
	if err != nil {
		t.Fatalf("derived authority: %v", err)
	}
	if _, _, err := engine.InitializeCampaign(derivedAuth, InitParams{Seed: 7, PackPrice: 10, TotalPacks: 5, RewardAsset: asset}); !errors.Is(err, ErrInvalidSigner) {
		t.Fatalf("derived signer accepted: %v", err)
	}
	if len(st.campaigns) != 0 {
		t.Fatalf("failed initializations left %d records", len(st.campaigns))
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed initializations emitted events")
	}
}

func TestPurchaseAssignsSequentialIndices(t *testing.T) {
	st := newMockState()
	engine, emitter := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 1, 2, 3, 4, 5)
	addr, _ := initCampaign(t, engine, st, authority, 1, 100, rs)

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 10_000

	seen := make(map[crypto.Address]bool)
	for i := 0; i < 5; i++ {
		receipt, receiptAddr, err := engine.PurchasePack(addr, buyer)
		if err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
		if receipt.PackIndex != uint32(i) {
			t.Fatalf("purchase %d got pack index %d", i, receipt.PackIndex)
		}
		if receipt.IsClaimed || receipt.Buyer != buyer.Address() || receipt.Campaign != addr {
			t.Fatalf("unexpected receipt: %+v", receipt)
		}
		expected, err := ReceiptDerivation(ProgramID, addr, uint32(i))
		if err != nil {
			t.Fatalf("derive receipt: %v", err)
		}
		if receiptAddr != expected.Address {
			t.Fatalf("receipt %d stored at unexpected address", i)
		}
		if seen[receiptAddr] {
			t.Fatalf("duplicate receipt address for index %d", i)
		}
		seen[receiptAddr] = true
	}

	_, _, err := engine.PurchasePack(addr, buyer)
	if !errors.Is(err, ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", err)
	}

	c := mustCampaign(t, engine, addr)
	if c.PacksSold != 5 {
		t.Fatalf("expected 5 packs sold, got %d", c.PacksSold)
	}
	vault, err := engine.Vault(addr)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Balance.Uint64() != 500 {
		t.Fatalf("expected vault balance 500, got %s", vault.Balance.Dec())
	}
	if st.native[buyer.Address()] != 9_500 {
		t.Fatalf("expected buyer balance 9500, got %d", st.native[buyer.Address()])
	}
	// one init plus five purchases
	if len(emitter.events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(emitter.events))
	}
}

func TestPurchaseWithoutFundsHasNoEffect(t *testing.T) {
	st := newMockState()
	engine, emitter := newTestEngine(st)
	authority := newSigner(t, 0x01)
	addr, _ := initCampaign(t, engine, st, authority, 1, 100, newRewardSet(t, 1, 2))

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 99
	emitter.events = nil

	_, _, err := engine.PurchasePack(addr, buyer)
	if !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if c := mustCampaign(t, engine, addr); c.PacksSold != 0 {
		t.Fatalf("packs sold advanced on failure")
	}
	if len(st.receipts) != 0 {
		t.Fatalf("receipt created on failure")
	}
	if st.native[buyer.Address()] != 99 {
		t.Fatalf("buyer balance changed on failure")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("failed purchase emitted events")
	}
}

func TestPurchaseUnknownCampaign(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	_, _, err := engine.PurchasePack(newTestAddress(0x33), newSigner(t, 0x02))
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestCloseBlocksPurchasesButNotClaims(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 70, 80, 90)
	addr, asset := initCampaign(t, engine, st, authority, 9, 10, rs)

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 100
	_, receiptAddr, err := engine.PurchasePack(addr, buyer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := engine.CloseCampaign(addr, buyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.CloseCampaign(addr, authority); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c := mustCampaign(t, engine, addr); c.IsActive {
		t.Fatalf("campaign still active after close")
	}
	if err := engine.CloseCampaign(addr, authority); !errors.Is(err, ErrCampaignNotActive) {
		t.Fatalf("expected ErrCampaignNotActive on second close, got %v", err)
	}
	if _, _, err := engine.PurchasePack(addr, buyer); !errors.Is(err, ErrCampaignNotActive) {
		t.Fatalf("expected ErrCampaignNotActive, got %v", err)
	}

	if err := engine.ClaimPack(receiptAddr, buyer, rs.claim(t, 0)); err != nil {
		t.Fatalf("claim after close: %v", err)
	}
	if got := st.balanceOf(asset, buyer.Address()); got != 70 {
		t.Fatalf("expected 70 minted, got %d", got)
	}
}

func TestClaimSucceedsAtMostOnce(t *testing.T) {
	st := newMockState()
	engine, emitter := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 500, 50)
	addr, asset := initCampaign(t, engine, st, authority, 3, 100, rs)

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 100
	_, receiptAddr, err := engine.PurchasePack(addr, buyer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	claim := rs.claim(t, 0)
	if err := engine.ClaimPack(receiptAddr, buyer, claim); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := engine.ClaimPack(receiptAddr, buyer, claim); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	bad := claim
	bad.Amount = 1
	if err := engine.ClaimPack(receiptAddr, buyer, bad); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed for invalid proof, got %v", err)
	}
	if got := st.balanceOf(asset, buyer.Address()); got != 500 {
		t.Fatalf("expected exactly one mint of 500, got %d", got)
	}
	if st.mints != 1 {
		t.Fatalf("expected one mint call, got %d", st.mints)
	}
	evts := emitter.typesEvents()
	last := evts[len(evts)-1]
	if last.Type != EventTypePackClaimed || last.Attributes["amount"] != "500" {
		t.Fatalf("unexpected claim event: %+v", last)
	}
	if _, ok := last.Attributes["salt"]; ok {
		t.Fatalf("claim event leaks salt")
	}
}

func TestClaimByNonOwnerFails(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 500, 50)
	addr, asset := initCampaign(t, engine, st, authority, 3, 100, rs)

	buyer := newSigner(t, 0x02)
	thief := newSigner(t, 0x03)
	st.native[buyer.Address()] = 100
	_, receiptAddr, err := engine.PurchasePack(addr, buyer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := engine.ClaimPack(receiptAddr, thief, rs.claim(t, 0)); !errors.Is(err, ErrNotPackOwner) {
		t.Fatalf("expected ErrNotPackOwner, got %v", err)
	}
	if got := st.balanceOf(asset, thief.Address()); got != 0 {
		t.Fatalf("thief received %d", got)
	}
	if r := mustReceipt(t, engine, receiptAddr); r.IsClaimed {
		t.Fatalf("receipt marked claimed by non-owner")
	}
}

func TestClaimRejections(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 11, 22, 33, 44)
	addr, asset := initCampaign(t, engine, st, authority, 5, 1, rs)

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 10
	var receipts []crypto.Address
	for i := 0; i < 2; i++ {
		_, receiptAddr, err := engine.PurchasePack(addr, buyer)
		if err != nil {
			t.Fatalf("purchase: %v", err)
		}
		receipts = append(receipts, receiptAddr)
	}

	wrongAsset := crypto.ProgramAddress("other")
	rightAsset := asset
	valid := rs.claim(t, 1)
	otherLeaf := rs.claim(t, 0)
	tamperedProof := rs.claim(t, 1)
	tamperedProof.Proof[0][3] ^= 0x01
	wrongSalt := rs.claim(t, 1)
	wrongSalt.Salt[0] ^= 0xFF

	cases := []struct {
		name  string
		claim Claim
		want  error
	}{
		{"wrong amount", Claim{Amount: 23, Salt: valid.Salt, Proof: valid.Proof}, ErrInvalidProof},
		{"wrong salt", wrongSalt, ErrInvalidProof},
		{"tampered proof", tamperedProof, ErrInvalidProof},
		{"proof for another index", otherLeaf, ErrInvalidProof},
		{"empty proof", Claim{Amount: valid.Amount, Salt: valid.Salt}, ErrInvalidProof},
		{"asset mismatch", Claim{Amount: valid.Amount, Salt: valid.Salt, Proof: valid.Proof, Asset: &wrongAsset}, ErrInvalidMint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := engine.ClaimPack(receipts[1], buyer, tc.claim); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if st.mints != 0 {
		t.Fatalf("rejected claims minted %d times", st.mints)
	}

	if err := engine.ClaimPack(newTestAddress(0x44), buyer, valid); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("expected ErrReceiptNotFound, got %v", err)
	}

	withAsset := valid
	withAsset.Asset = &rightAsset
	if err := engine.ClaimPack(receipts[1], buyer, withAsset); err != nil {
		t.Fatalf("claim with explicit asset: %v", err)
	}
	if got := st.balanceOf(asset, buyer.Address()); got != 22 {
		t.Fatalf("expected 22 minted, got %d", got)
	}
}

func TestClaimMintFailureLeavesReceiptUnclaimed(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 5)
	addr, asset := initCampaign(t, engine, st, authority, 8, 1, rs)

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 1
	_, receiptAddr, err := engine.PurchasePack(addr, buyer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	st.failMint = bank.ErrMintPaused
	if err := engine.ClaimPack(receiptAddr, buyer, rs.claim(t, 0)); !errors.Is(err, bank.ErrMintPaused) {
		t.Fatalf("expected mint failure, got %v", err)
	}
	if r := mustReceipt(t, engine, receiptAddr); r.IsClaimed {
		t.Fatalf("receipt claimed although mint failed")
	}

	st.failMint = nil
	meta := st.assets[asset]
	meta.MintAuthority = newTestAddress(0x55)
	st.assets[asset] = meta
	if err := engine.ClaimPack(receiptAddr, buyer, rs.claim(t, 0)); !errors.Is(err, ErrInvalidMintAuthority) {
		t.Fatalf("expected ErrInvalidMintAuthority, got %v", err)
	}

	delete(st.assets, asset)
	if err := engine.ClaimPack(receiptAddr, buyer, rs.claim(t, 0)); !errors.Is(err, ErrInvalidMint) {
		t.Fatalf("expected ErrInvalidMint, got %v", err)
	}
	if r := mustReceipt(t, engine, receiptAddr); r.IsClaimed {
		t.Fatalf("receipt claimed although mint failed")
	}
}

func TestWithdrawAdminIsReserveAware(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	engine.SetReserve(150)
	authority := newSigner(t, 0x01)
	addr, _ := initCampaign(t, engine, st, authority, 2, 100, newRewardSet(t, 1, 2, 3, 4))

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 1_000
	for i := 0; i < 4; i++ {
		if _, _, err := engine.PurchasePack(addr, buyer); err != nil {
			t.Fatalf("purchase: %v", err)
		}
	}
	vault, err := engine.Vault(addr)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Balance.Uint64() != 400 || vault.Available.Uint64() != 250 {
		t.Fatalf("unexpected vault: balance %s available %s", vault.Balance.Dec(), vault.Available.Dec())
	}

	if _, err := engine.WithdrawAdmin(addr, buyer, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	tooMuch := uint64(251)
	if _, err := engine.WithdrawAdmin(addr, authority, &tooMuch); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	partial := uint64(100)
	got, err := engine.WithdrawAdmin(addr, authority, &partial)
	if err != nil {
		t.Fatalf("partial withdraw: %v", err)
	}
	if got != 100 || st.native[vault.Address] != 300 || st.native[authority.Address()] != 100 {
		t.Fatalf("partial withdraw moved wrong amounts: got %d vault %d authority %d", got, st.native[vault.Address], st.native[authority.Address()])
	}

	got, err = engine.WithdrawAdmin(addr, authority, nil)
	if err != nil {
		t.Fatalf("full withdraw: %v", err)
	}
	if got != 150 || st.native[vault.Address] != 150 {
		t.Fatalf("full withdraw should leave the reserve: got %d vault %d", got, st.native[vault.Address])
	}

	transfers := st.transfers
	got, err = engine.WithdrawAdmin(addr, authority, nil)
	if err != nil {
		t.Fatalf("empty withdraw: %v", err)
	}
	if got != 0 || st.transfers != transfers {
		t.Fatalf("empty withdraw moved value")
	}
	one := uint64(1)
	if _, err := engine.WithdrawAdmin(addr, authority, &one); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds at reserve, got %v", err)
	}
}

func TestWithdrawBelowReserve(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	addr, _ := initCampaign(t, engine, st, authority, 2, 100, newRewardSet(t, 1))

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 100
	if _, _, err := engine.PurchasePack(addr, buyer); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	got, err := engine.WithdrawAdmin(addr, authority, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got != 0 {
		t.Fatalf("withdrew %d from a vault below the default reserve", got)
	}
	zero := uint64(0)
	if _, err := engine.WithdrawAdmin(addr, authority, &zero); err != nil {
		t.Fatalf("zero withdraw: %v", err)
	}
}

func TestWithdrawAfterClose(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	engine.SetReserve(0)
	authority := newSigner(t, 0x01)
	addr, _ := initCampaign(t, engine, st, authority, 4, 40, newRewardSet(t, 1, 1))

	buyer := newSigner(t, 0x02)
	st.native[buyer.Address()] = 40
	if _, _, err := engine.PurchasePack(addr, buyer); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := engine.CloseCampaign(addr, authority); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := engine.WithdrawAdmin(addr, authority, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got != 40 || st.native[authority.Address()] != 40 {
		t.Fatalf("unexpected withdrawal %d", got)
	}
}

func TestEndToEndTwoBuyers(t *testing.T) {
	st := newMockState()
	engine, emitter := newTestEngine(st)
	authority := newSigner(t, 0x01)
	rs := newRewardSet(t, 500, 50)
	addr, asset := initCampaign(t, engine, st, authority, 2024, 100, rs)

	buyerA := newSigner(t, 0x0A)
	buyerB := newSigner(t, 0x0B)
	st.native[buyerA.Address()] = 1_000
	st.native[buyerB.Address()] = 1_000

	receiptA, addrA, err := engine.PurchasePack(addr, buyerA)
	if err != nil {
		t.Fatalf("purchase A: %v", err)
	}
	receiptB, addrB, err := engine.PurchasePack(addr, buyerB)
	if err != nil {
		t.Fatalf("purchase B: %v", err)
	}
	if receiptA.PackIndex != 0 || receiptB.PackIndex != 1 {
		t.Fatalf("unexpected pack indices %d %d", receiptA.PackIndex, receiptB.PackIndex)
	}
	if _, _, err := engine.PurchasePack(addr, buyerA); !errors.Is(err, ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", err)
	}

	if err := engine.ClaimPack(addrA, buyerA, rs.claim(t, 0)); err != nil {
		t.Fatalf("claim A: %v", err)
	}
	if got := st.balanceOf(asset, buyerA.Address()); got != 500 {
		t.Fatalf("buyer A expected 500, got %d", got)
	}
	if r := mustReceipt(t, engine, addrA); !r.IsClaimed {
		t.Fatalf("receipt A not claimed")
	}

	wrong := rs.claim(t, 1)
	wrong.Amount = 60
	if err := engine.ClaimPack(addrB, buyerB, wrong); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	if err := engine.ClaimPack(addrB, buyerB, rs.claim(t, 1)); err != nil {
		t.Fatalf("claim B: %v", err)
	}
	if got := st.balanceOf(asset, buyerB.Address()); got != 50 {
		t.Fatalf("buyer B expected 50, got %d", got)
	}

	var kinds []string
	for _, evt := range emitter.typesEvents() {
		kinds = append(kinds, evt.Type)
	}
	want := []string{
		EventTypeCampaignInitialized,
		EventTypePackPurchased,
		EventTypePackPurchased,
		EventTypePackClaimed,
		EventTypePackClaimed,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestConcurrentPurchasesGetDistinctIndices(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	amounts := make([]uint64, 32)
	for i := range amounts {
		amounts[i] = uint64(i)
	}
	addr, _ := initCampaign(t, engine, st, authority, 77, 1, newRewardSet(t, amounts...))

	buyers := make([]bank.Authority, 40)
	for i := range buyers {
		buyers[i] = newSigner(t, byte(0x10+i))
		st.native[buyers[i].Address()] = 1
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indices = make(map[uint32]int)
		soldOut int
	)
	for _, buyer := range buyers {
		wg.Add(1)
		go func(buyer bank.Authority) {
			defer wg.Done()
			receipt, _, err := engine.PurchasePack(addr, buyer)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrSoldOut) {
				soldOut++
				return
			}
			if err != nil {
				t.Errorf("purchase: %v", err)
				return
			}
			indices[receipt.PackIndex]++
		}(buyer)
	}
	wg.Wait()

	if len(indices) != 32 || soldOut != 8 {
		t.Fatalf("expected 32 unique indices and 8 sold out, got %d and %d", len(indices), soldOut)
	}
	for idx, n := range indices {
		if n != 1 || idx >= 32 {
			t.Fatalf("index %d assigned %d times", idx, n)
		}
	}
}

func TestEngineRequiresBackends(t *testing.T) {
	engine := NewEngine()
	if _, _, err := engine.PurchasePack(newTestAddress(1), newSigner(t, 2)); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(newMockState())
	if err := engine.CloseCampaign(newTestAddress(1), newSigner(t, 2)); !errors.Is(err, errNilLedger) {
		t.Fatalf("expected errNilLedger, got %v", err)
	}
}

func TestConcurrentClaimsMintOnce(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	authority := newSigner(t, 0x01)
	buyer := newSigner(t, 0x02)
	rs := newRewardSet(t, 500, 50, 5)
	addr, asset := initCampaign(t, engine, st, authority, 91, 10, rs)
	st.native[buyer.Address()] = 10

	_, receiptAddr, err := engine.PurchasePack(addr, buyer)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	claim := rs.claim(t, 0)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := engine.ClaimPack(receiptAddr, buyer, claim)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyClaimed):
				already++
			default:
				t.Errorf("claim: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != 1 || already != workers-1 {
		t.Fatalf("expected 1 success and %d already claimed, got %d and %d", workers-1, ok, already)
	}
	if st.mints != 1 {
		t.Fatalf("expected a single mint, got %d", st.mints)
	}
	if got := st.balanceOf(asset, buyer.Address()); got != 500 {
		t.Fatalf("expected minted amount 500, got %d", got)
	}
	if !mustReceipt(t, engine, receiptAddr).IsClaimed {
		t.Fatalf("receipt not marked claimed")
	}
}
