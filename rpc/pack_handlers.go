package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"packchain/core/types"
	"packchain/crypto"
	"packchain/indexer"
	"packchain/native/mysterypack"
	"packchain/observability"
)

type addressParams struct {
	Address string `json:"address"`
}

type balanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

type listReceiptsParams struct {
	Buyer    string `json:"buyer,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type listCampaignsParams struct {
	Address    string `json:"address,omitempty"`
	ActiveOnly bool   `json:"activeOnly,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type deriveParams struct {
	Seed      uint64  `json:"seed"`
	Program   string  `json:"program,omitempty"`
	PackIndex *uint32 `json:"packIndex,omitempty"`
}

type campaignJSON struct {
	Address     string `json:"address"`
	Vault       string `json:"vault"`
	Seed        uint64 `json:"seed"`
	Authority   string `json:"authority"`
	RewardAsset string `json:"rewardAsset"`
	PackPrice   uint64 `json:"packPrice"`
	TotalPacks  uint32 `json:"totalPacks"`
	PacksSold   uint32 `json:"packsSold"`
	Remaining   uint32 `json:"remaining"`
	MerkleRoot  string `json:"merkleRoot"`
	Active      bool   `json:"active"`
	Bump        uint8  `json:"bump"`
	VaultBump   uint8  `json:"vaultBump"`
}

type receiptJSON struct {
	Address   string `json:"address"`
	Campaign  string `json:"campaign"`
	Buyer     string `json:"buyer"`
	PackIndex uint32 `json:"packIndex"`
	Claimed   bool   `json:"claimed"`
	Price     uint64 `json:"price,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
}

type indexedCampaignJSON struct {
	Address     string `json:"address"`
	Vault       string `json:"vault"`
	Seed        uint64 `json:"seed"`
	Authority   string `json:"authority"`
	RewardAsset string `json:"rewardAsset"`
	PackPrice   uint64 `json:"packPrice"`
	TotalPacks  uint32 `json:"totalPacks"`
	PacksSold   uint32 `json:"packsSold"`
	MerkleRoot  string `json:"merkleRoot"`
	Active      bool   `json:"active"`
	CreatedAt   int64  `json:"createdAt"`
}

type withdrawalJSON struct {
	ID        string `json:"id"`
	Campaign  string `json:"campaign"`
	Vault     string `json:"vault"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	CreatedAt int64  `json:"createdAt"`
}

type vaultJSON struct {
	Campaign  string `json:"campaign"`
	Address   string `json:"address"`
	Bump      uint8  `json:"bump"`
	Balance   string `json:"balance"`
	Reserve   string `json:"reserve"`
	Available string `json:"available"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
	Balance string `json:"balance"`
}

type addressesJSON struct {
	Program      string `json:"program"`
	Campaign     string `json:"campaign"`
	CampaignBump uint8  `json:"campaignBump"`
	Vault        string `json:"vault"`
	VaultBump    uint8  `json:"vaultBump"`
	Receipt      string `json:"receipt,omitempty"`
	ReceiptBump  *uint8 `json:"receiptBump,omitempty"`
}

func decodeSingle(req *RPCRequest, out interface{}) *rpcFailure {
	if len(req.Params) != 1 {
		return invalidParams("parameter object required", nil)
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return invalidParams("invalid parameter object", err)
	}
	return nil
}

func parseAddressParam(field, value string) (crypto.Address, *rpcFailure) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return crypto.Address{}, invalidParams(field+" must be a valid address", err)
	}
	return addr, nil
}

func formatCampaign(addr crypto.Address, c *mysterypack.Campaign, vault crypto.Address) campaignJSON {
	return campaignJSON{
		Address:     addr.String(),
		Vault:       vault.String(),
		Seed:        c.Seed,
		Authority:   c.Authority.String(),
		RewardAsset: c.RewardAsset.String(),
		PackPrice:   c.PackPrice,
		TotalPacks:  c.TotalPacks,
		PacksSold:   c.PacksSold,
		Remaining:   c.Remaining(),
		MerkleRoot:  "0x" + hex.EncodeToString(c.MerkleRoot[:]),
		Active:      c.IsActive,
		Bump:        c.Bump,
		VaultBump:   c.VaultBump,
	}
}

func (s *Server) handleSendTransaction(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	if fail := s.requireAuth(r); fail != nil {
		return nil, fail
	}
	if len(req.Params) == 0 {
		return nil, invalidParams("transaction parameter required", nil)
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, invalidParams("invalid transaction format", err)
	}
	if !tx.Type.Valid() {
		return nil, invalidParams("unknown transaction type", nil)
	}
	if len(tx.Signature) == 0 {
		return nil, invalidParams("transaction signature required", nil)
	}

	source := s.clientSource(r)
	if !s.limiter.allow(source) {
		observability.ModuleMetrics().RecordThrottle(metricsModule, "rate_limit")
		return nil, failure(http.StatusTooManyRequests, codeRateLimited, "transaction rate limit exceeded", source)
	}

	result, err := s.exec.Apply(r.Context(), &tx)
	if err != nil {
		return nil, executionFailure(err)
	}
	return result, nil
}

func (s *Server) handleGetCampaign(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params addressParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddressParam("address", params.Address)
	if fail != nil {
		return nil, fail
	}
	c, err := s.exec.Campaign(addr)
	if err != nil {
		return nil, executionFailure(err)
	}
	vd, err := mysterypack.VaultDerivation(s.exec.ProgramID(), addr)
	if err != nil {
		return nil, executionFailure(err)
	}
	return formatCampaign(addr, c, vd.Address), nil
}

func (s *Server) handleGetReceipt(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params addressParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddressParam("address", params.Address)
	if fail != nil {
		return nil, fail
	}
	receipt, err := s.exec.Receipt(addr)
	if err != nil {
		return nil, executionFailure(err)
	}
	return receiptJSON{
		Address:   addr.String(),
		Campaign:  receipt.Campaign.String(),
		Buyer:     receipt.Buyer.String(),
		PackIndex: receipt.PackIndex,
		Claimed:   receipt.IsClaimed,
	}, nil
}

func (s *Server) handleGetVault(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params addressParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddressParam("address", params.Address)
	if fail != nil {
		return nil, fail
	}
	info, err := s.exec.Vault(addr)
	if err != nil {
		return nil, executionFailure(err)
	}
	return vaultJSON{
		Campaign:  addr.String(),
		Address:   info.Address.String(),
		Bump:      info.Bump,
		Balance:   info.Balance.Dec(),
		Reserve:   info.Reserve.Dec(),
		Available: info.Available.Dec(),
	}, nil
}

func (s *Server) handleGetBalance(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params balanceParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddressParam("address", params.Address)
	if fail != nil {
		return nil, fail
	}
	if strings.TrimSpace(params.Asset) == "" {
		bal, err := s.exec.NativeBalance(addr)
		if err != nil {
			return nil, executionFailure(err)
		}
		return balanceJSON{Address: addr.String(), Balance: bal.Dec()}, nil
	}
	asset, fail := parseAddressParam("asset", params.Asset)
	if fail != nil {
		return nil, fail
	}
	if _, err := s.exec.Asset(asset); err != nil {
		return nil, executionFailure(err)
	}
	bal, err := s.exec.AssetBalance(asset, addr)
	if err != nil {
		return nil, executionFailure(err)
	}
	return balanceJSON{Address: addr.String(), Asset: asset.String(), Balance: bal.Dec()}, nil
}

func (s *Server) handleGetNonce(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params addressParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	addr, fail := parseAddressParam("address", params.Address)
	if fail != nil {
		return nil, fail
	}
	nonce, err := s.exec.Nonce(addr)
	if err != nil {
		return nil, executionFailure(err)
	}
	return nonce, nil
}

func (s *Server) handleListReceipts(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	if s.index == nil {
		return nil, s.indexUnavailable()
	}
	var params listReceiptsParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	var (
		rows []indexer.Receipt
		err  error
	)
	switch {
	case params.Buyer != "" && params.Campaign == "":
		buyer, fail := parseAddressParam("buyer", params.Buyer)
		if fail != nil {
			return nil, fail
		}
		rows, err = s.index.ReceiptsByBuyer(r.Context(), buyer.String(), params.Limit)
	case params.Campaign != "" && params.Buyer == "":
		campaign, fail := parseAddressParam("campaign", params.Campaign)
		if fail != nil {
			return nil, fail
		}
		rows, err = s.index.ReceiptsByCampaign(r.Context(), campaign.String(), params.Limit)
	default:
		return nil, invalidParams("exactly one of buyer or campaign is required", nil)
	}
	if err != nil {
		return nil, executionFailure(err)
	}
	out := make([]receiptJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, receiptJSON{
			Address:   row.Address,
			Campaign:  row.Campaign,
			Buyer:     row.Buyer,
			PackIndex: row.PackIndex,
			Claimed:   row.Claimed,
			Price:     row.Price,
			Amount:    row.Amount,
		})
	}
	return out, nil
}

func formatIndexedCampaign(row indexer.Campaign) indexedCampaignJSON {
	return indexedCampaignJSON{
		Address:     row.Address,
		Vault:       row.Vault,
		Seed:        row.Seed,
		Authority:   row.Authority,
		RewardAsset: row.RewardAsset,
		PackPrice:   row.PackPrice,
		TotalPacks:  row.TotalPacks,
		PacksSold:   row.PacksSold,
		MerkleRoot:  row.MerkleRoot,
		Active:      row.Active,
		CreatedAt:   row.CreatedAt.Unix(),
	}
}

func (s *Server) indexUnavailable() *rpcFailure {
	return failure(http.StatusServiceUnavailable, codeUnavailable, "indexer disabled", nil)
}

// handleListCampaigns serves the indexed campaign projection. With an
// address it returns that single campaign.
func (s *Server) handleListCampaigns(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	if s.index == nil {
		return nil, s.indexUnavailable()
	}
	var params listCampaignsParams
	if len(req.Params) > 0 {
		if fail := decodeSingle(req, &params); fail != nil {
			return nil, fail
		}
	}
	if strings.TrimSpace(params.Address) != "" {
		addr, fail := parseAddressParam("address", params.Address)
		if fail != nil {
			return nil, fail
		}
		row, err := s.index.Campaign(r.Context(), addr.String())
		if err != nil {
			return nil, executionFailure(err)
		}
		return []indexedCampaignJSON{formatIndexedCampaign(*row)}, nil
	}
	rows, err := s.index.Campaigns(r.Context(), params.ActiveOnly, params.Limit)
	if err != nil {
		return nil, executionFailure(err)
	}
	out := make([]indexedCampaignJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatIndexedCampaign(row))
	}
	return out, nil
}

func (s *Server) handleListWithdrawals(r *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	if s.index == nil {
		return nil, s.indexUnavailable()
	}
	var params addressParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	campaign, fail := parseAddressParam("address", params.Address)
	if fail != nil {
		return nil, fail
	}
	rows, err := s.index.Withdrawals(r.Context(), campaign.String())
	if err != nil {
		return nil, executionFailure(err)
	}
	out := make([]withdrawalJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, withdrawalJSON{
			ID:        row.ID.String(),
			Campaign:  row.Campaign,
			Vault:     row.Vault,
			To:        row.To,
			Amount:    row.Amount,
			CreatedAt: row.CreatedAt.Unix(),
		})
	}
	return out, nil
}

func (s *Server) handleDeriveAddresses(_ *http.Request, req *RPCRequest) (interface{}, *rpcFailure) {
	var params deriveParams
	if fail := decodeSingle(req, &params); fail != nil {
		return nil, fail
	}
	program := s.exec.ProgramID()
	if strings.TrimSpace(params.Program) != "" {
		parsed, fail := parseAddressParam("program", params.Program)
		if fail != nil {
			return nil, fail
		}
		program = parsed
	}
	addrs, err := mysterypack.DeriveAddresses(program, params.Seed)
	if err != nil {
		return nil, executionFailure(err)
	}
	out := addressesJSON{
		Program:      program.String(),
		Campaign:     addrs.Campaign.String(),
		CampaignBump: addrs.CampaignBump,
		Vault:        addrs.Vault.String(),
		VaultBump:    addrs.VaultBump,
	}
	if params.PackIndex != nil {
		rd, err := mysterypack.ReceiptDerivation(program, addrs.Campaign, *params.PackIndex)
		if err != nil {
			return nil, executionFailure(err)
		}
		bump := rd.Bump
		out.Receipt = rd.Address.String()
		out.ReceiptBump = &bump
	}
	return out, nil
}
