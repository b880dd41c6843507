package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"packchain/crypto"
	"packchain/native/bank"
)

// GenesisSpec is the JSON document that seeds a fresh ledger.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	Alloc       map[string]string `json:"alloc"` // addr -> native amount
	Assets      []AssetSpec       `json:"assets,omitempty"`

	genesisTimestamp time.Time
}

// AssetSpec registers a reward asset at genesis. Alloc pre-mints balances and
// counts towards the asset supply.
type AssetSpec struct {
	Creator           string            `json:"creator"`
	Symbol            string            `json:"symbol"`
	Decimals          uint8             `json:"decimals"`
	MintAuthority     string            `json:"mintAuthority"`
	InitialMintPaused bool              `json:"initialMintPaused,omitempty"`
	Alloc             map[string]string `json:"alloc,omitempty"`
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a genesis document. Unknown fields
// are rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Hash identifies the document. encoding/json sorts map keys, so equal
// documents hash equally regardless of key order in the source file.
func (s *GenesisSpec) Hash() ([32]byte, error) {
	var out [32]byte
	encoded, err := json.Marshal(s)
	if err != nil {
		return out, err
	}
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

func (s *GenesisSpec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts

	if err := validateAlloc("alloc", s.Alloc); err != nil {
		return err
	}

	seen := make(map[crypto.Address]struct{}, len(s.Assets))
	for i := range s.Assets {
		id, err := s.Assets[i].validate()
		if err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("assets[%d]: duplicate asset %q", i, s.Assets[i].Symbol)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// validate checks the asset and returns its derived id.
func (a *AssetSpec) validate() (crypto.Address, error) {
	creator, err := parseSigner(a.Creator)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("creator: %w", err)
	}
	if _, err := bank.NormalizeSymbol(a.Symbol); err != nil {
		return crypto.Address{}, err
	}
	if a.Decimals > bank.MaxDecimals {
		return crypto.Address{}, fmt.Errorf("decimals must be %d or fewer", bank.MaxDecimals)
	}
	authority, err := crypto.ParseAddress(a.MintAuthority)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("mintAuthority: %w", err)
	}
	if authority.IsZero() {
		return crypto.Address{}, fmt.Errorf("mintAuthority must not be zero")
	}
	if err := validateAlloc("alloc", a.Alloc); err != nil {
		return crypto.Address{}, err
	}
	if _, err := a.supply(); err != nil {
		return crypto.Address{}, err
	}
	d, err := bank.AssetID(creator, a.Symbol)
	if err != nil {
		return crypto.Address{}, err
	}
	return d.Address, nil
}

func (a *AssetSpec) supply() (*uint256.Int, error) {
	total := uint256.NewInt(0)
	for account, amount := range a.Alloc {
		value, err := parseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, fmt.Errorf("alloc: supply overflows")
		}
	}
	return total, nil
}

func validateAlloc(field string, alloc map[string]string) error {
	accounts := sortedKeys(alloc)
	for _, account := range accounts {
		if _, err := parseSigner(account); err != nil {
			return fmt.Errorf("%s[%q]: %w", field, account, err)
		}
		if _, err := parseAmount(alloc[account]); err != nil {
			return fmt.Errorf("%s[%q]: %w", field, account, err)
		}
	}
	return nil
}

// parseSigner rejects derived addresses, which no key can control.
func parseSigner(value string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return crypto.Address{}, err
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("address must not be zero")
	}
	if addr.IsDerived() {
		return crypto.Address{}, fmt.Errorf("address %s is a derived address", addr)
	}
	return addr, nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
