package state

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/rlp"
)

// StateVersion identifies the on-disk layout of ledger records. Increment it
// whenever a record codec or key scheme changes incompatibly.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion stages the schema version. It is flushed with the next
// Commit.
func (m *Manager) SetStateVersion(version uint32) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	encoded, err := rlp.EncodeToBytes(uint64(version))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(stateVersionKey, encoded)
	m.mu.Unlock()
	return nil
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (m *Manager) StateVersion() (uint32, bool, error) {
	if m == nil {
		return 0, false, fmt.Errorf("state: manager unavailable")
	}
	m.mu.RLock()
	raw, ok, err := m.get(stateVersionKey)
	m.mu.RUnlock()
	if err != nil || !ok {
		return 0, false, err
	}
	var stored uint64
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return 0, false, fmt.Errorf("state: decode schema version: %w", err)
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the stored schema version matches the
// version supported by this binary. A ledger without a version marker has not
// been seeded yet and passes. When allowMigrate is true, mismatches are
// tolerated so operators can perform manual migrations.
func EnsureStateVersion(m *Manager, allowMigrate bool) error {
	if m == nil {
		return fmt.Errorf("state: manager must not be nil")
	}
	version, ok, err := m.StateVersion()
	if err != nil {
		return err
	}
	if !ok || version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
