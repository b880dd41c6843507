package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"packchain/crypto"
	"packchain/storage"
)

var (
	// ErrRecordExists is returned when creating a record at an occupied address.
	ErrRecordExists = errors.New("state: record already exists")
	// ErrRecordNotFound is returned when overwriting a record that was never created.
	ErrRecordNotFound = errors.New("state: record not found")
)

// Manager is a journaled write overlay on top of a storage.Database. Reads
// fall through to the database; writes stay in memory until Commit flushes
// them in a single batch. Snapshots mark journal positions that can be
// reverted independently of the final commit/discard decision.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	dirty   map[string]overlayValue
	journal []journalEntry
}

type overlayValue struct {
	data    []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    overlayValue
	touched bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]overlayValue)}
}

// AssetMetadata describes a registered reward asset.
type AssetMetadata struct {
	Symbol        string
	Decimals      uint8
	Creator       crypto.Address
	MintAuthority crypto.Address
	MintPaused    bool
	Supply        *uint256.Int
}

var (
	nativeBalancePrefix = []byte("balance:native:")
	assetBalancePrefix  = []byte("balance:asset:")
	assetPrefix         = []byte("asset:")
	noncePrefix         = []byte("nonce:")
	campaignPrefix      = []byte("mysterypack:campaign:")
	receiptPrefix       = []byte("mysterypack:receipt:")
	genesisKey          = ethcrypto.Keccak256([]byte("genesis"))
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	chunks := make([][]byte, 0, len(parts)+1)
	chunks = append(chunks, prefix)
	chunks = append(chunks, parts...)
	return ethcrypto.Keccak256(chunks...)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if v, ok := m.dirty[string(key)]; ok {
		if v.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), v.data...), true, nil
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) set(key []byte, value overlayValue) {
	k := string(key)
	prev, touched := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, touched: touched})
	m.dirty[k] = value
}

func (m *Manager) put(key, value []byte) {
	m.set(key, overlayValue{data: append([]byte(nil), value...)})
}

func (m *Manager) remove(key []byte) {
	m.set(key, overlayValue{deleted: true})
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.touched {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Commit flushes pending writes to the database atomically and clears the
// overlay.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := storage.NewBatch()
	for key, v := range m.dirty {
		if v.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), v.data)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.reset()
	return nil
}

// Discard drops every pending write.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Pending reports the number of keys with uncommitted writes.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty)
}

func (m *Manager) reset() {
	m.dirty = make(map[string]overlayValue)
	m.journal = nil
}

func (m *Manager) readUint256(key []byte) (*uint256.Int, error) {
	m.mu.RLock()
	data, ok, err := m.get(key)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return uint256.NewInt(0), nil
	}
	if len(data) > 32 {
		return nil, fmt.Errorf("state: corrupt amount (%d bytes)", len(data))
	}
	return new(uint256.Int).SetBytes(data), nil
}

func (m *Manager) writeUint256(key []byte, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount == nil || amount.IsZero() {
		m.remove(key)
		return
	}
	m.put(key, amount.Bytes())
}

// NativeBalance returns the native balance held by addr.
func (m *Manager) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	return m.readUint256(prefixedKey(nativeBalancePrefix, addr[:]))
}

// SetNativeBalance stores the native balance for addr.
func (m *Manager) SetNativeBalance(addr crypto.Address, amount *uint256.Int) error {
	m.writeUint256(prefixedKey(nativeBalancePrefix, addr[:]), amount)
	return nil
}

// AssetBalance returns the balance of asset held by addr.
func (m *Manager) AssetBalance(asset, addr crypto.Address) (*uint256.Int, error) {
	return m.readUint256(prefixedKey(assetBalancePrefix, asset[:], addr[:]))
}

// SetAssetBalance stores the balance of asset held by addr.
func (m *Manager) SetAssetBalance(asset, addr crypto.Address, amount *uint256.Int) error {
	m.writeUint256(prefixedKey(assetBalancePrefix, asset[:], addr[:]), amount)
	return nil
}

// Asset retrieves metadata for a registered asset. A nil result means the
// asset does not exist.
func (m *Manager) Asset(asset crypto.Address) (*AssetMetadata, error) {
	m.mu.RLock()
	data, ok, err := m.get(prefixedKey(assetPrefix, asset[:]))
	m.mu.RUnlock()
	if err != nil || !ok {
		return nil, err
	}
	meta := new(AssetMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, fmt.Errorf("state: decode asset: %w", err)
	}
	if meta.Supply == nil {
		meta.Supply = uint256.NewInt(0)
	}
	return meta, nil
}

// PutAsset stores asset metadata.
func (m *Manager) PutAsset(asset crypto.Address, meta *AssetMetadata) error {
	if meta == nil {
		return fmt.Errorf("state: nil asset metadata")
	}
	if strings.TrimSpace(meta.Symbol) == "" {
		return fmt.Errorf("state: asset symbol must not be empty")
	}
	stored := *meta
	if stored.Supply == nil {
		stored.Supply = uint256.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(prefixedKey(assetPrefix, asset[:]), encoded)
	m.mu.Unlock()
	return nil
}

// Nonce returns the next expected transaction nonce for addr.
func (m *Manager) Nonce(addr crypto.Address) (uint64, error) {
	m.mu.RLock()
	data, ok, err := m.get(prefixedKey(noncePrefix, addr[:]))
	m.mu.RUnlock()
	if err != nil || !ok {
		return 0, err
	}
	var nonce uint64
	if err := rlp.DecodeBytes(data, &nonce); err != nil {
		return 0, fmt.Errorf("state: decode nonce: %w", err)
	}
	return nonce, nil
}

// SetNonce stores the next expected nonce for addr.
func (m *Manager) SetNonce(addr crypto.Address, nonce uint64) error {
	encoded, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(prefixedKey(noncePrefix, addr[:]), encoded)
	m.mu.Unlock()
	return nil
}

func (m *Manager) record(prefix []byte, addr crypto.Address) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(prefixedKey(prefix, addr[:]))
}

func (m *Manager) createRecord(prefix []byte, addr crypto.Address, raw []byte) error {
	key := prefixedKey(prefix, addr[:])
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok, err := m.get(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrRecordExists
	}
	m.put(key, raw)
	return nil
}

func (m *Manager) putRecord(prefix []byte, addr crypto.Address, raw []byte) error {
	key := prefixedKey(prefix, addr[:])
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok, err := m.get(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	m.put(key, raw)
	return nil
}

// CampaignRecord returns the raw campaign record stored at addr.
func (m *Manager) CampaignRecord(addr crypto.Address) ([]byte, bool, error) {
	return m.record(campaignPrefix, addr)
}

// CreateCampaignRecord stores a new campaign record, failing if one exists.
func (m *Manager) CreateCampaignRecord(addr crypto.Address, raw []byte) error {
	return m.createRecord(campaignPrefix, addr, raw)
}

// PutCampaignRecord overwrites an existing campaign record.
func (m *Manager) PutCampaignRecord(addr crypto.Address, raw []byte) error {
	return m.putRecord(campaignPrefix, addr, raw)
}

// ReceiptRecord returns the raw receipt record stored at addr.
func (m *Manager) ReceiptRecord(addr crypto.Address) ([]byte, bool, error) {
	return m.record(receiptPrefix, addr)
}

// CreateReceiptRecord stores a new receipt record, failing if one exists.
func (m *Manager) CreateReceiptRecord(addr crypto.Address, raw []byte) error {
	return m.createRecord(receiptPrefix, addr, raw)
}

// PutReceiptRecord overwrites an existing receipt record.
func (m *Manager) PutReceiptRecord(addr crypto.Address, raw []byte) error {
	return m.putRecord(receiptPrefix, addr, raw)
}

// GenesisHash returns the hash of the applied genesis, if any.
func (m *Manager) GenesisHash() ([32]byte, bool, error) {
	var out [32]byte
	m.mu.RLock()
	data, ok, err := m.get(genesisKey)
	m.mu.RUnlock()
	if err != nil || !ok {
		return out, false, err
	}
	if len(data) != len(out) {
		return out, false, fmt.Errorf("state: corrupt genesis marker")
	}
	copy(out[:], data)
	return out, true, nil
}

// MarkGenesis records that the genesis identified by hash has been applied.
func (m *Manager) MarkGenesis(hash [32]byte) error {
	m.mu.Lock()
	m.put(genesisKey, hash[:])
	m.mu.Unlock()
	return nil
}
