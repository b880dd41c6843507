package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"packchain/core/types"
	"packchain/crypto"
	"packchain/native/mysterypack"
)

// txFlags are shared by every transaction command.
type txFlags struct {
	key   string
	nonce int64
}

func (f *txFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.key, "key", "", "keystore file of the signer")
	fs.Int64Var(&f.nonce, "nonce", -1, "explicit nonce (default: fetched from the node)")
}

// campaignRef selects a campaign by address or by seed.
type campaignRef struct {
	address string
	seed    int64
}

func (c *campaignRef) register(fs *flag.FlagSet) {
	fs.StringVar(&c.address, "campaign", "", "campaign address")
	fs.Int64Var(&c.seed, "seed", -1, "campaign seed, used to derive the address when --campaign is omitted")
}

func (c *campaignRef) resolve() (crypto.Address, error) {
	if strings.TrimSpace(c.address) != "" {
		addr, err := crypto.ParseAddress(c.address)
		if err != nil {
			return crypto.Address{}, fmt.Errorf("--campaign: %w", err)
		}
		return addr, nil
	}
	if c.seed < 0 {
		return crypto.Address{}, fmt.Errorf("--campaign or --seed is required")
	}
	d, err := mysterypack.CampaignDerivation(mysterypack.ProgramID, uint64(c.seed))
	if err != nil {
		return crypto.Address{}, err
	}
	return d.Address, nil
}

func fetchNonce(addr crypto.Address) (uint64, error) {
	result, rpcErr, err := rpcCall("pack_getNonce", map[string]string{"address": addr.String()}, false)
	if err != nil {
		return 0, err
	}
	if rpcErr != nil {
		return 0, rpcErr
	}
	var nonce uint64
	if err := json.Unmarshal(result, &nonce); err != nil {
		return 0, fmt.Errorf("decode nonce: %w", err)
	}
	return nonce, nil
}

// submit signs payload with the keystore in flags and sends it.
func submit(flags *txFlags, txType types.TxType, payload interface{}, stdout, stderr io.Writer) int {
	key, err := loadKey(flags.key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var nonce uint64
	if flags.nonce >= 0 {
		nonce = uint64(flags.nonce)
	} else {
		nonce, err = fetchNonce(key.PubKey().Address())
		if err != nil {
			return printError(stderr, fmt.Sprintf("fetch nonce: %v", err))
		}
	}
	tx, err := types.NewTransaction(txType, nonce, payload)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := tx.Sign(key); err != nil {
		return printError(stderr, fmt.Sprintf("sign transaction: %v", err))
	}
	result, rpcErr, err := rpcCall("pack_sendTransaction", tx, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	var (
		flags  txFlags
		to     string
		amount uint64
	)
	flags.register(fs)
	fs.StringVar(&to, "to", "", "recipient address")
	fs.Uint64Var(&amount, "amount", 0, "native amount")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	recipient, err := crypto.ParseAddress(to)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--to: %v", err))
	}
	if amount == 0 {
		return printError(stderr, "--amount must be positive")
	}
	return submit(&flags, types.TxTypeTransfer, &types.TransferPayload{To: recipient, Amount: amount}, stdout, stderr)
}

func runRegisterAsset(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("register-asset", stderr)
	var (
		flags     txFlags
		symbol    string
		decimals  uint
		authority string
		ref       campaignRef
	)
	flags.register(fs)
	fs.StringVar(&symbol, "symbol", "", "asset symbol")
	fs.UintVar(&decimals, "decimals", 0, "asset decimals")
	fs.StringVar(&authority, "mint-authority", "", "mint authority address")
	fs.StringVar(&ref.address, "campaign", "", "campaign address to use as mint authority")
	fs.Int64Var(&ref.seed, "seed", -1, "campaign seed to derive the mint authority from")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(symbol) == "" {
		return printError(stderr, "--symbol is required")
	}
	if decimals > 36 {
		return printError(stderr, "--decimals must be <= 36")
	}
	var mintAuthority crypto.Address
	if strings.TrimSpace(authority) != "" {
		addr, err := crypto.ParseAddress(authority)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--mint-authority: %v", err))
		}
		mintAuthority = addr
	} else {
		addr, err := ref.resolve()
		if err != nil {
			return printError(stderr, "--mint-authority, --campaign or --seed is required")
		}
		mintAuthority = addr
	}
	payload := &types.RegisterAssetPayload{
		Symbol:        symbol,
		Decimals:      uint8(decimals),
		MintAuthority: mintAuthority,
	}
	return submit(&flags, types.TxTypeRegisterAsset, payload, stdout, stderr)
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init", stderr)
	var (
		flags      txFlags
		seed       uint64
		root       string
		proofsPath string
		price      uint64
		packs      uint
		asset      string
	)
	flags.register(fs)
	fs.Uint64Var(&seed, "seed", 0, "campaign seed")
	fs.StringVar(&root, "root", "", "0x-hex merkle root")
	fs.StringVar(&proofsPath, "proofs", "", "proof bundle from packctl tree; supplies root and pack count")
	fs.Uint64Var(&price, "price", 0, "pack price in native units")
	fs.UintVar(&packs, "packs", 0, "total packs")
	fs.StringVar(&asset, "asset", "", "reward asset address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(proofsPath) != "" {
		bundle, err := loadProofBundle(proofsPath)
		if err != nil {
			return printError(stderr, err.Error())
		}
		if root == "" {
			root = bundle.Root
		}
		if packs == 0 {
			packs = uint(bundle.TotalPacks)
		}
	}
	merkleRoot, err := parseHash("--root", root)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if uint64(packs) > uint64(^uint32(0)) {
		return printError(stderr, "--packs exceeds the pack index range")
	}
	rewardAsset, err := crypto.ParseAddress(asset)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--asset: %v", err))
	}
	payload := &types.InitializeCampaignPayload{
		Seed:        seed,
		MerkleRoot:  merkleRoot,
		PackPrice:   price,
		TotalPacks:  uint32(packs),
		RewardAsset: rewardAsset,
	}
	return submit(&flags, types.TxTypeInitializeCampaign, payload, stdout, stderr)
}

func runPurchase(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("purchase", stderr)
	var (
		flags txFlags
		ref   campaignRef
	)
	flags.register(fs)
	ref.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	campaign, err := ref.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submit(&flags, types.TxTypePurchasePack, &types.PurchasePackPayload{Campaign: campaign}, stdout, stderr)
}

type receiptView struct {
	PackIndex uint32 `json:"packIndex"`
	Campaign  string `json:"campaign"`
}

func fetchReceipt(addr crypto.Address) (*receiptView, error) {
	result, rpcErr, err := rpcCall("pack_getReceipt", map[string]string{"address": addr.String()}, false)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	var view receiptView
	if err := json.Unmarshal(result, &view); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &view, nil
}

func runClaim(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("claim", stderr)
	var (
		flags      txFlags
		receipt    string
		proofsPath string
		index      int64
		amount     int64
		salt       string
		proof      string
		asset      string
	)
	flags.register(fs)
	fs.StringVar(&receipt, "receipt", "", "receipt address")
	fs.StringVar(&proofsPath, "proofs", "", "proof bundle from packctl tree")
	fs.Int64Var(&index, "index", -1, "pack index (default: read from the receipt)")
	fs.Int64Var(&amount, "amount", -1, "revealed reward amount (overrides the bundle)")
	fs.StringVar(&salt, "salt", "", "revealed 0x-hex salt (overrides the bundle)")
	fs.StringVar(&proof, "proof", "", "comma separated 0x-hex proof siblings (overrides the bundle)")
	fs.StringVar(&asset, "asset", "", "optional reward asset address to assert")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	receiptAddr, err := crypto.ParseAddress(receipt)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--receipt: %v", err))
	}

	payload := &types.ClaimPackPayload{Receipt: receiptAddr}
	if strings.TrimSpace(proofsPath) != "" {
		bundle, err := loadProofBundle(proofsPath)
		if err != nil {
			return printError(stderr, err.Error())
		}
		if index < 0 {
			view, err := fetchReceipt(receiptAddr)
			if err != nil {
				return printError(stderr, fmt.Sprintf("fetch receipt: %v", err))
			}
			index = int64(view.PackIndex)
		}
		if index > int64(^uint32(0)) {
			return printError(stderr, "--index exceeds the pack index range")
		}
		entry, err := bundle.pack(uint32(index))
		if err != nil {
			return printError(stderr, err.Error())
		}
		if err := fillClaim(payload, entry.Amount, entry.Salt, entry.Proof); err != nil {
			return printError(stderr, err.Error())
		}
	}
	if amount >= 0 {
		payload.Amount = uint64(amount)
	}
	if strings.TrimSpace(salt) != "" {
		parsed, err := parseHash("--salt", salt)
		if err != nil {
			return printError(stderr, err.Error())
		}
		payload.Salt = parsed
	}
	if strings.TrimSpace(proof) != "" {
		siblings, err := parseProof(strings.Split(proof, ","))
		if err != nil {
			return printError(stderr, err.Error())
		}
		payload.Proof = siblings
	}
	if strings.TrimSpace(proofsPath) == "" && (amount < 0 || strings.TrimSpace(salt) == "") {
		return printError(stderr, "--proofs or both --amount and --salt are required")
	}
	if strings.TrimSpace(asset) != "" {
		addr, err := crypto.ParseAddress(asset)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--asset: %v", err))
		}
		payload.Asset = &addr
	}
	return submit(&flags, types.TxTypeClaimPack, payload, stdout, stderr)
}

func fillClaim(payload *types.ClaimPackPayload, amount uint64, salt string, proof []string) error {
	parsedSalt, err := parseHash("salt", salt)
	if err != nil {
		return err
	}
	siblings, err := parseProof(proof)
	if err != nil {
		return err
	}
	payload.Amount = amount
	payload.Salt = parsedSalt
	payload.Proof = siblings
	return nil
}

func parseProof(values []string) ([][32]byte, error) {
	out := make([][32]byte, 0, len(values))
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		h, err := parseHash(fmt.Sprintf("proof[%d]", i), v)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func runClose(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("close", stderr)
	var (
		flags txFlags
		ref   campaignRef
	)
	flags.register(fs)
	ref.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	campaign, err := ref.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submit(&flags, types.TxTypeCloseCampaign, &types.CloseCampaignPayload{Campaign: campaign}, stdout, stderr)
}

func runWithdraw(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdraw", stderr)
	var (
		flags  txFlags
		ref    campaignRef
		amount int64
	)
	flags.register(fs)
	ref.register(fs)
	fs.Int64Var(&amount, "amount", -1, "amount to withdraw (default: everything above the reserve)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	campaign, err := ref.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	payload := &types.WithdrawAdminPayload{Campaign: campaign, All: amount < 0}
	if amount >= 0 {
		payload.Amount = uint64(amount)
	}
	return submit(&flags, types.TxTypeWithdrawAdmin, payload, stdout, stderr)
}

func runPauseMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pause-mint", stderr)
	var (
		flags  txFlags
		asset  string
		resume bool
	)
	flags.register(fs)
	fs.StringVar(&asset, "asset", "", "reward asset address")
	fs.BoolVar(&resume, "resume", false, "resume minting instead of pausing it")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := crypto.ParseAddress(asset)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--asset: %v", err))
	}
	return submit(&flags, types.TxTypeSetMintPaused, &types.SetMintPausedPayload{Asset: addr, Paused: !resume}, stdout, stderr)
}
