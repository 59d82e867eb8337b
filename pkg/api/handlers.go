package api

import (
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/app/exchange"
	"github.com/uhyunpark/orionex/pkg/app/token"
	"github.com/uhyunpark/orionex/pkg/host"
)

// ==============================
// Views
// ==============================

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.host.Pending()
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, ChainStatus{
		Height:             s.host.Height(),
		Exchange:           s.cfg.Exchange.Hex(),
		ChainID:            s.cfg.ChainID.String(),
		RequiresSignatures: s.exchange.Validator().RequiresSignatures(),
		PendingTransfers:   len(pending),
	})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, err := order.ParseAddress(vars["user"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user", err.Error())
		return
	}
	asset, err := order.ParseAddress(vars["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}

	var bal *big.Int
	if !s.view(w, s.cfg.Exchange, func(inv *host.Invocation) error {
		bal, err = s.exchange.Balance(inv, asset, user)
		return err
	}) {
		return
	}
	respondJSON(w, BalanceInfo{User: user.Hex(), Asset: asset.Hex(), Balance: bal.String()})
}

// handleGetBalances reads ?assets=0x..,0x.. and answers in the same order
func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	user, err := order.ParseAddress(mux.Vars(r)["user"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user", err.Error())
		return
	}

	raw := r.URL.Query().Get("assets")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing assets", "pass ?assets=0x..,0x..")
		return
	}
	var assets []common.Address
	for _, part := range strings.Split(raw, ",") {
		asset, err := order.ParseAddress(strings.TrimSpace(part))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
			return
		}
		assets = append(assets, asset)
	}

	var bals []*big.Int
	if !s.view(w, s.cfg.Exchange, func(inv *host.Invocation) error {
		bals, err = s.exchange.Balances(inv, assets, user)
		return err
	}) {
		return
	}

	response := make([]BalanceInfo, len(assets))
	for i, asset := range assets {
		response[i] = BalanceInfo{User: user.Hex(), Asset: asset.Hex(), Balance: bals[i].String()}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrderStatus(w http.ResponseWriter, r *http.Request) {
	hash, err := order.ParseHash(mux.Vars(r)["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order hash", err.Error())
		return
	}

	var st order.Status
	var cancelled bool
	if !s.view(w, s.cfg.Exchange, func(inv *host.Invocation) error {
		var err error
		if st, err = s.exchange.OrderStatus(inv, hash); err != nil {
			return err
		}
		cancelled, err = s.exchange.IsOrderCancelled(inv, hash)
		return err
	}) {
		return
	}
	respondJSON(w, OrderStatusInfo{Hash: hash.Hex(), Status: st.String(), Cancelled: cancelled})
}

func (s *Server) handleIsOrderCancelled(w http.ResponseWriter, r *http.Request) {
	hash, err := order.ParseHash(mux.Vars(r)["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order hash", err.Error())
		return
	}

	var cancelled bool
	if !s.view(w, s.cfg.Exchange, func(inv *host.Invocation) error {
		var err error
		cancelled, err = s.exchange.IsOrderCancelled(inv, hash)
		return err
	}) {
		return
	}
	respondJSON(w, map[string]interface{}{"hash": hash.Hex(), "cancelled": cancelled})
}

func (s *Server) handleGetOrderTrades(w http.ResponseWriter, r *http.Request) {
	o, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	var trades []order.Trade
	if !s.view(w, s.cfg.Exchange, func(inv *host.Invocation) error {
		var err error
		trades, err = s.exchange.OrderTrades(inv, o)
		return err
	}) {
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, t := range trades {
		response[i] = TradeInfo{
			Price:     t.Price.String(),
			Amount:    t.Amount.String(),
			Fee:       t.Fee.String(),
			Timestamp: t.Timestamp,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetFilledAmounts(w http.ResponseWriter, r *http.Request) {
	o, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	var filled, fees *big.Int
	if !s.view(w, s.cfg.Exchange, func(inv *host.Invocation) error {
		var err error
		filled, fees, err = s.exchange.FilledAmounts(inv, o)
		return err
	}) {
		return
	}
	respondJSON(w, FilledInfo{Hash: o.MustHash().Hex(), Filled: filled.String(), FeesPaid: fees.String()})
}

// handleValidateOrder answers 200 for both outcomes; only malformed JSON is a 400
func (s *Server) handleValidateOrder(w http.ResponseWriter, r *http.Request) {
	var p order.Payload
	if !decodeBody(w, r, &p) {
		return
	}
	o, err := p.ToOrder()
	if err != nil {
		respondJSON(w, ValidationInfo{Valid: false, Reason: err.Error()})
		return
	}

	info := ValidationInfo{Valid: s.exchange.ValidateOrder(o)}
	if hash, err := o.Hash(); err == nil {
		info.Hash = hash.Hex()
	}
	if !info.Valid {
		info.Reason = s.exchange.Validator().Validate(o).Error()
	}
	respondJSON(w, info)
}

// ==============================
// Exchange entry points
// ==============================

func (s *Server) handleFillOrders(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	buy, err := req.Buy.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy order", err.Error())
		return
	}
	sell, err := req.Sell.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell order", err.Error())
		return
	}
	price, err := order.ParseAmount(req.FilledPrice)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filled_price", err.Error())
		return
	}
	amount, err := order.ParseAmount(req.FilledAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filled_amount", err.Error())
		return
	}

	s.invoke(w, r, exchange.EntryFillOrders, s.cfg.Exchange, nil, func(inv *host.Invocation) error {
		return s.exchange.FillOrders(inv, buy, sell, price, amount)
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := req.Order.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	s.invoke(w, r, exchange.EntryCancelOrder, s.cfg.Exchange, nil, func(inv *host.Invocation) error {
		return s.exchange.CancelOrder(inv, o)
	})
}

// handleDepositNative attaches the requested amount of the caller's native
// coin as payment to depositERD
func (s *Server) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	var req NativeDepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := order.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	s.invoke(w, r, exchange.EntryDepositERD, s.cfg.Exchange, amount, func(inv *host.Invocation) error {
		return s.exchange.DepositNative(inv)
	})
}

func (s *Server) handleDepositAsset(w http.ResponseWriter, r *http.Request) {
	asset, amount, ok := decodeAssetAmount(w, r)
	if !ok {
		return
	}
	s.invoke(w, r, exchange.EntryDepositAsset, s.cfg.Exchange, nil, func(inv *host.Invocation) error {
		return s.exchange.DepositAsset(inv, asset, amount)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	asset, amount, ok := decodeAssetAmount(w, r)
	if !ok {
		return
	}
	s.invoke(w, r, exchange.EntryWithdraw, s.cfg.Exchange, nil, func(inv *host.Invocation) error {
		return s.exchange.Withdraw(inv, asset, amount)
	})
}

// ==============================
// External transfers
// ==============================

func (s *Server) handleGetTransfers(w http.ResponseWriter, r *http.Request) {
	pending, err := s.host.Pending()
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	response := make([]TransferInfo, len(pending))
	for i, p := range pending {
		response[i] = TransferInfo{
			ID:     p.ID,
			Kind:   p.Kind.String(),
			Token:  p.Token.Hex(),
			User:   p.User.Hex(),
			Amount: p.Amount.String(),
		}
	}
	respondJSON(w, response)
}

// handleSettleTransfer runs one queued transfer now. The callback's error is
// reported in Reason; the transfer is settled either way.
func (s *Server) handleSettleTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transfer id", err.Error())
		return
	}

	res, err := s.host.Settle(id)
	if errors.Is(err, host.ErrUnknownTransfer) {
		s.respondFailure(w, err)
		return
	}
	if err != nil && res.Amount == nil {
		s.respondFailure(w, err)
		return
	}

	success := res.Success && err == nil
	info := TransferInfo{
		ID:      res.ID,
		Kind:    res.Kind.String(),
		Token:   res.Token.Hex(),
		User:    res.User.Hex(),
		Amount:  res.Amount.String(),
		Success: &success,
		Reason:  res.Reason,
	}
	if err != nil && info.Reason == "" {
		info.Reason = err.Error()
	}
	respondJSON(w, info)
}

// ==============================
// Token contracts
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	addrs := make([]common.Address, 0, len(s.tokens))
	for addr := range s.tokens {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })

	response := make([]TokenInfo, 0, len(addrs))
	for _, addr := range addrs {
		tok := s.tokens[addr]
		var supply *big.Int
		if !s.view(w, addr, func(inv *host.Invocation) error {
			var err error
			supply, err = tok.TotalSupply(inv)
			return err
		}) {
			return
		}
		response = append(response, TokenInfo{
			Address:     addr.Hex(),
			Name:        tok.Name,
			Symbol:      tok.Symbol,
			Decimals:    tok.Decimals,
			TotalSupply: supply.String(),
		})
	}
	respondJSON(w, response)
}

func (s *Server) handleGetTokenBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, tok, ok := s.lookupToken(w, vars["token"])
	if !ok {
		return
	}
	user, err := order.ParseAddress(vars["user"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user", err.Error())
		return
	}

	var bal *big.Int
	if !s.view(w, addr, func(inv *host.Invocation) error {
		bal, err = tok.BalanceOf(inv, user)
		return err
	}) {
		return
	}
	respondJSON(w, BalanceInfo{User: user.Hex(), Asset: addr.Hex(), Balance: bal.String()})
}

// handleTokenCall runs a state-changing token method as the caller.
// For ownership, To is the new owner.
func (s *Server) handleTokenCall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, tok, ok := s.lookupToken(w, vars["token"])
	if !ok {
		return
	}
	var req TokenCallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, err := order.ParseAddress(req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid to", err.Error())
		return
	}
	op := vars["op"]
	amount := new(big.Int)
	if op != "ownership" {
		if amount, err = order.ParseAmount(req.Amount); err != nil {
			respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
			return
		}
	}

	s.invoke(w, r, op, addr, nil, func(inv *host.Invocation) error {
		switch op {
		case "approve":
			return tok.Approve(inv, to, amount)
		case "transfer":
			return tok.Transfer(inv, to, amount)
		case "ownership":
			return tok.TransferOwnership(inv, to)
		default:
			return tok.Mint(inv, to, amount)
		}
	})
}

func (s *Server) lookupToken(w http.ResponseWriter, raw string) (common.Address, *token.Token, bool) {
	addr, err := order.ParseAddress(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid token", err.Error())
		return common.Address{}, nil, false
	}
	tok, ok := s.tokens[addr]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown token", addr.Hex())
		return common.Address{}, nil, false
	}
	return addr, tok, true
}

// ==============================
// Native coin
// ==============================

func (s *Server) handleGetNativeBalance(w http.ResponseWriter, r *http.Request) {
	user, err := order.ParseAddress(mux.Vars(r)["user"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user", err.Error())
		return
	}
	bal, err := s.host.NativeBalance(user)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, BalanceInfo{User: user.Hex(), Asset: order.NativeAsset.Hex(), Balance: bal.String()})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	addr, err := order.ParseAddress(req.Address)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid address", err.Error())
		return
	}
	amount, err := order.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	if err := s.host.Faucet(addr, amount); err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, TxResponse{Status: "committed", Entry: "faucet", Height: s.host.Height()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Request decoding
// ==============================

func (s *Server) decodeOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	var p order.Payload
	if !decodeBody(w, r, &p) {
		return nil, false
	}
	o, err := p.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return nil, false
	}
	if _, err := o.Hash(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return nil, false
	}
	return o, true
}

func decodeAssetAmount(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	var req AssetAmountRequest
	if !decodeBody(w, r, &req) {
		return common.Address{}, nil, false
	}
	asset, err := order.ParseAddress(req.Asset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return common.Address{}, nil, false
	}
	amount, err := order.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return common.Address{}, nil, false
	}
	return asset, amount, true
}
