package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"packchain/crypto"
	"packchain/native/mysterypack"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var (
		out       string
		force     bool
		ifMissing bool
	)
	fs.StringVar(&out, "out", "", "keystore file to create")
	fs.BoolVar(&force, "force", false, "overwrite an existing keystore")
	fs.BoolVar(&ifMissing, "if-missing", false, "reuse the keystore at --out when it already exists")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		return printError(stderr, "--out is required")
	}
	if force && ifMissing {
		return printError(stderr, "--force and --if-missing are mutually exclusive")
	}
	if _, err := os.Stat(out); err == nil && !force && !ifMissing {
		return printError(stderr, fmt.Sprintf("%s already exists; pass --force to overwrite", out))
	}
	pass, err := keyPassword()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if ifMissing {
		key, created, err := crypto.LoadOrCreateKeystore(out, pass)
		if err != nil {
			return printError(stderr, fmt.Sprintf("keystore %s: %v", out, err))
		}
		if !created {
			fmt.Fprintf(stderr, "reusing existing keystore %s\n", out)
		}
		fmt.Fprintln(stdout, key.PubKey().Address().String())
		return 0
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return printError(stderr, fmt.Sprintf("write keystore: %v", err))
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var (
		keyPath string
		hexOut  bool
	)
	fs.StringVar(&keyPath, "key", "", "keystore file")
	fs.BoolVar(&hexOut, "hex", false, "print the 0x-hex form")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	key, err := loadKey(keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	if hexOut {
		fmt.Fprintln(stdout, addr.Hex())
	} else {
		fmt.Fprintln(stdout, addr.String())
	}
	return 0
}

type derivedJSON struct {
	Program      string `json:"program"`
	Campaign     string `json:"campaign"`
	CampaignBump uint8  `json:"campaignBump"`
	Vault        string `json:"vault"`
	VaultBump    uint8  `json:"vaultBump"`
	Receipt      string `json:"receipt,omitempty"`
	ReceiptBump  *uint8 `json:"receiptBump,omitempty"`
}

// runDerive computes addresses offline.
func runDerive(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("derive", stderr)
	var (
		seed      uint64
		program   string
		packIndex int64
	)
	fs.Uint64Var(&seed, "seed", 0, "campaign seed")
	fs.StringVar(&program, "program", "", "program address (defaults to the mystery pack program)")
	fs.Int64Var(&packIndex, "pack", -1, "optional pack index to derive a receipt address for")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	programID := mysterypack.ProgramID
	if strings.TrimSpace(program) != "" {
		parsed, err := crypto.ParseAddress(program)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--program: %v", err))
		}
		programID = parsed
	}
	addrs, err := mysterypack.DeriveAddresses(programID, seed)
	if err != nil {
		return printError(stderr, err.Error())
	}
	out := derivedJSON{
		Program:      programID.String(),
		Campaign:     addrs.Campaign.String(),
		CampaignBump: addrs.CampaignBump,
		Vault:        addrs.Vault.String(),
		VaultBump:    addrs.VaultBump,
	}
	if packIndex >= 0 {
		if packIndex > int64(^uint32(0)) {
			return printError(stderr, "--pack exceeds the pack index range")
		}
		rd, err := mysterypack.ReceiptDerivation(programID, addrs.Campaign, uint32(packIndex))
		if err != nil {
			return printError(stderr, err.Error())
		}
		bump := rd.Bump
		out.Receipt = rd.Address.String()
		out.ReceiptBump = &bump
	}
	if err := writeJSON(stdout, out); err != nil {
		return printError(stderr, err.Error())
	}
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--key is required")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("keystore %s not found. run packctl keygen first", path)
		}
		return nil, err
	}
	pass, err := keyPassword()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, nil
}
