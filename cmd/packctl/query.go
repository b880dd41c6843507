package main

import (
	"fmt"
	"io"
	"strings"

	"packchain/crypto"
)

func runCampaign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("campaign", stderr)
	var ref campaignRef
	ref.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := ref.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return query("pack_getCampaign", map[string]string{"address": addr.String()}, stdout, stderr)
}

func runVault(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("vault", stderr)
	var ref campaignRef
	ref.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := ref.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return query("pack_getVault", map[string]string{"address": addr.String()}, stdout, stderr)
}

func runReceipt(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("receipt", stderr)
	var address string
	fs.StringVar(&address, "address", "", "receipt address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := crypto.ParseAddress(address)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--address: %v", err))
	}
	return query("pack_getReceipt", map[string]string{"address": addr.String()}, stdout, stderr)
}

func runReceipts(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("receipts", stderr)
	var (
		buyer    string
		campaign string
		limit    int
	)
	fs.StringVar(&buyer, "buyer", "", "list receipts owned by this address")
	fs.StringVar(&campaign, "campaign", "", "list receipts of this campaign")
	fs.IntVar(&limit, "limit", 0, "maximum rows")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	hasBuyer := strings.TrimSpace(buyer) != ""
	hasCampaign := strings.TrimSpace(campaign) != ""
	if hasBuyer == hasCampaign {
		return printError(stderr, "exactly one of --buyer or --campaign is required")
	}
	params := map[string]interface{}{}
	if hasBuyer {
		params["buyer"] = strings.TrimSpace(buyer)
	} else {
		params["campaign"] = strings.TrimSpace(campaign)
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return query("pack_listReceipts", params, stdout, stderr)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var (
		address string
		asset   string
	)
	fs.StringVar(&address, "address", "", "account address")
	fs.StringVar(&asset, "asset", "", "optional asset address (default: native balance)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := crypto.ParseAddress(address); err != nil {
		return printError(stderr, fmt.Sprintf("--address: %v", err))
	}
	params := map[string]string{"address": strings.TrimSpace(address)}
	if strings.TrimSpace(asset) != "" {
		params["asset"] = strings.TrimSpace(asset)
	}
	return query("pack_getBalance", params, stdout, stderr)
}

func runCampaigns(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("campaigns", stderr)
	var (
		active bool
		limit  int
	)
	fs.BoolVar(&active, "active", false, "only list campaigns still selling")
	fs.IntVar(&limit, "limit", 0, "maximum rows")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{}
	if active {
		params["activeOnly"] = true
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return query("pack_listCampaigns", params, stdout, stderr)
}

func runWithdrawals(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("withdrawals", stderr)
	var ref campaignRef
	ref.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := ref.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return query("pack_listWithdrawals", map[string]string{"address": addr.String()}, stdout, stderr)
}
