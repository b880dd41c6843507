package main

import (
	"bytes"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"packchain/core/merkle"
)

// packEntry is one line of a pack manifest. Salts are 0x-hex.
type packEntry struct {
	Index  uint32 `yaml:"index"`
	Amount uint64 `yaml:"amount"`
	Salt   string `yaml:"salt"`
}

type packManifest struct {
	Packs []packEntry `yaml:"packs"`
}

type packProof struct {
	Index  uint32   `json:"index"`
	Amount uint64   `json:"amount"`
	Salt   string   `json:"salt"`
	Leaf   string   `json:"leaf"`
	Proof  []string `json:"proof"`
}

// proofBundle is the output of the tree command and the input of claim.
type proofBundle struct {
	Root        string      `json:"root"`
	TotalPacks  uint32      `json:"totalPacks"`
	TotalAmount uint64      `json:"totalAmount"`
	Packs       []packProof `json:"packs"`
}

func (b *proofBundle) pack(index uint32) (*packProof, error) {
	if int(index) < len(b.Packs) && b.Packs[index].Index == index {
		return &b.Packs[index], nil
	}
	for i := range b.Packs {
		if b.Packs[i].Index == index {
			return &b.Packs[i], nil
		}
	}
	return nil, fmt.Errorf("pack %d not present in proof bundle", index)
}

func parseHash(field, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return out, fmt.Errorf("%s: %w", field, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("%s: expected 32 bytes, got %d", field, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func loadManifest(path string) (*packManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m packManifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// buildProofs validates the manifest, which must cover indices 0..n-1
// exactly once, and returns the root with one proof per pack.
func buildProofs(m *packManifest) (*proofBundle, error) {
	if m == nil || len(m.Packs) == 0 {
		return nil, fmt.Errorf("manifest has no packs")
	}
	if uint64(len(m.Packs)) > math.MaxUint32 {
		return nil, fmt.Errorf("manifest has too many packs")
	}
	entries := append([]packEntry(nil), m.Packs...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })

	leaves := make([][32]byte, len(entries))
	var total uint64
	for i, entry := range entries {
		if entry.Index != uint32(i) {
			if i > 0 && entry.Index == entries[i-1].Index {
				return nil, fmt.Errorf("pack index %d listed twice", entry.Index)
			}
			return nil, fmt.Errorf("pack index %d missing", i)
		}
		salt, err := parseHash(fmt.Sprintf("pack %d salt", entry.Index), entry.Salt)
		if err != nil {
			return nil, err
		}
		if total > math.MaxUint64-entry.Amount {
			return nil, fmt.Errorf("total reward amount overflows")
		}
		total += entry.Amount
		leaves[i] = merkle.Leaf(entry.Index, entry.Amount, salt)
	}

	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return nil, err
	}
	root := tree.Root()
	bundle := &proofBundle{
		Root:        hexutil.Encode(root[:]),
		TotalPacks:  uint32(len(entries)),
		TotalAmount: total,
		Packs:       make([]packProof, len(entries)),
	}
	for i, entry := range entries {
		proof, err := tree.Proof(entry.Index)
		if err != nil {
			return nil, err
		}
		hexProof := make([]string, len(proof))
		for j, sibling := range proof {
			hexProof[j] = hexutil.Encode(sibling[:])
		}
		bundle.Packs[i] = packProof{
			Index:  entry.Index,
			Amount: entry.Amount,
			Salt:   strings.ToLower(strings.TrimSpace(entry.Salt)),
			Leaf:   hexutil.Encode(leaves[i][:]),
			Proof:  hexProof,
		}
	}
	return bundle, nil
}

func loadProofBundle(path string) (*proofBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b proofBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode proofs %s: %w", path, err)
	}
	return &b, nil
}

// generateManifest assigns amounts to packs in random order with fresh
// salts.
func generateManifest(amounts []uint64, shuffle bool, rnd io.Reader) (*packManifest, error) {
	if len(amounts) == 0 {
		return nil, fmt.Errorf("at least one amount is required")
	}
	order := append([]uint64(nil), amounts...)
	if shuffle {
		for i := len(order) - 1; i > 0; i-- {
			j, err := crand.Int(rnd, big.NewInt(int64(i+1)))
			if err != nil {
				return nil, err
			}
			k := int(j.Int64())
			order[i], order[k] = order[k], order[i]
		}
	}
	m := &packManifest{Packs: make([]packEntry, len(order))}
	for i, amount := range order {
		var salt [32]byte
		if _, err := io.ReadFull(rnd, salt[:]); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		m.Packs[i] = packEntry{Index: uint32(i), Amount: amount, Salt: hexutil.Encode(salt[:])}
	}
	return m, nil
}

func parseAmountList(raw string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// "500x3" repeats an amount.
		count := uint64(1)
		if amount, times, ok := strings.Cut(part, "x"); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(times), 10, 32)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("invalid repeat count in %q", part)
			}
			count = n
			part = strings.TrimSpace(amount)
		}
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", part)
		}
		for i := uint64(0); i < count; i++ {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no amounts given")
	}
	return out, nil
}

func writeOutput(path string, stdout io.Writer, data []byte) error {
	if strings.TrimSpace(path) == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func runManifest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("manifest", stderr)
	var (
		amounts string
		out     string
		ordered bool
	)
	fs.StringVar(&amounts, "amounts", "", "comma separated reward amounts, e.g. 500,50,10x8")
	fs.StringVar(&out, "out", "", "manifest file to write (default stdout)")
	fs.BoolVar(&ordered, "ordered", false, "keep the given order instead of shuffling")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	list, err := parseAmountList(amounts)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--amounts: %v", err))
	}
	m, err := generateManifest(list, !ordered, crand.Reader)
	if err != nil {
		return printError(stderr, err.Error())
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := writeOutput(out, stdout, data); err != nil {
		return printError(stderr, err.Error())
	}
	return 0
}

func runTree(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("tree", stderr)
	var (
		manifestPath string
		out          string
		rootOnly     bool
	)
	fs.StringVar(&manifestPath, "manifest", "", "YAML pack manifest")
	fs.StringVar(&out, "out", "", "proof bundle file to write (default stdout)")
	fs.BoolVar(&rootOnly, "root-only", false, "print only the merkle root")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(manifestPath) == "" {
		return printError(stderr, "--manifest is required")
	}
	m, err := loadManifest(manifestPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	bundle, err := buildProofs(m)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if rootOnly {
		fmt.Fprintln(stdout, bundle.Root)
		return 0
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return printError(stderr, err.Error())
	}
	data = append(data, '\n')
	if err := writeOutput(out, stdout, data); err != nil {
		return printError(stderr, err.Error())
	}
	return 0
}
