package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"packchain/cmd/internal/passphrase"
)

const (
	rpcURLEnv   = "PACKCHAIN_RPC_URL"
	rpcTokenEnv = "PACKCHAIN_RPC_TOKEN"
	keyPassEnv  = "PACKCHAIN_KEY_PASS"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv(rpcTokenEnv))
	keyPassword  = passphrase.NewSource(keyPassEnv, "keystore").Get
)

type command func(args []string, stdout, stderr io.Writer) int

var commands = map[string]command{
	"keygen":         runKeygen,
	"address":        runAddress,
	"derive":         runDerive,
	"manifest":       runManifest,
	"tree":           runTree,
	"transfer":       runTransfer,
	"register-asset": runRegisterAsset,
	"init":           runInit,
	"purchase":       runPurchase,
	"claim":          runClaim,
	"close":          runClose,
	"withdraw":       runWithdraw,
	"pause-mint":     runPauseMint,
	"campaign":       runCampaign,
	"receipt":        runReceipt,
	"receipts":       runReceipts,
	"campaigns":      runCampaigns,
	"withdrawals":    runWithdrawals,
	"vault":          runVault,
	"balance":        runBalance,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(stdout, usage())
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return cmd(args[1:], stdout, stderr)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  packctl [--rpc URL] <command> [flags]

Keys and offline tools:
  keygen          Create an encrypted keystore
  address         Print the address held by a keystore
  derive          Derive campaign, vault and receipt addresses
  manifest        Generate a pack manifest with random salts
  tree            Build the merkle root and proofs for a manifest

Transactions:
  transfer        Send native value
  register-asset  Register a reward asset
  init            Initialize a campaign
  purchase        Buy the next pack of a campaign
  claim           Reveal and claim a purchased pack
  close           Close a campaign to further sales
  withdraw        Withdraw vault proceeds above the reserve
  pause-mint      Pause or resume minting of an asset you created

Queries:
  campaign        Show a campaign
  receipt         Show a pack receipt
  receipts        List receipts by buyer or campaign
  campaigns       List indexed campaigns
  withdrawals     List vault withdrawals of a campaign
  vault           Show a campaign vault
  balance         Show a native or asset balance

Environment:
  PACKCHAIN_RPC_URL    RPC endpoint (default http://127.0.0.1:8545)
  PACKCHAIN_RPC_TOKEN  bearer token for transaction submission
  PACKCHAIN_KEY_PASS   keystore passphrase
`)
}
