package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/app/exchange"
	"github.com/uhyunpark/orionex/pkg/app/token"
	"github.com/uhyunpark/orionex/pkg/crypto"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/host"
	"github.com/uhyunpark/orionex/pkg/metrics"
	"github.com/uhyunpark/orionex/pkg/storage"
	"github.com/uhyunpark/orionex/pkg/util"
)

var (
	exchangeAddr = common.HexToAddress("0xE0000000000000000000000000000000000000E0")
	baseAddr     = common.HexToAddress("0x7000000000000000000000000000000000000001")
	quoteAddr    = common.HexToAddress("0x7000000000000000000000000000000000000002")
	tokenOwner   = common.HexToAddress("0x0000000000000000000000000000000000000022")

	buyer   = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	seller  = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	matcher = common.HexToAddress("0x00000000000000000000000000000000000000AA")
)

type testServer struct {
	t   *testing.T
	h   *host.Host
	s   *Server
	srv *httptest.Server
	rec *events.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	v, err := order.NewValidator(crypto.DefaultDomain(exchangeAddr), order.WithoutSignatures())
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := NewHub(nil)
	rec := events.NewRecorder(0)
	h, err := host.New(storage.NewMemDB(),
		host.WithSink(events.Multi{rec, hub}),
		host.WithMetrics(m),
		host.WithClock(util.NewManualClock(time.Unix(1_900_000_000, 0))),
	)
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}

	x := exchange.New(v, exchange.WithMetrics(m))
	h.RegisterCallback(exchangeAddr, x.Callback())

	s := NewServer(h, x, Config{
		Exchange: exchangeAddr,
		ChainID:  big.NewInt(1337),
		Faucet:   true,
		Gatherer: reg,
		Hub:      hub,
	}, nil)

	for addr, tok := range map[common.Address]*token.Token{
		baseAddr:  token.New("Base", "BASE", 18),
		quoteAddr: token.New("Quote", "QUOTE", 6),
	} {
		tok := tok
		h.RegisterToken(addr, tok)
		s.RegisterToken(addr, tok)
		if err := h.Invoke("init", addr, tokenOwner, nil, func(inv *host.Invocation) error { return tok.Init(inv) }); err != nil {
			t.Fatalf("token init failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &testServer{t: t, h: h, s: s, srv: srv, rec: rec}
}

// do sends body as JSON with caller in the caller header (zero address for
// none) and decodes the response into out when out is non-nil
func (ts *testServer) do(method, path string, caller common.Address, body, out interface{}) int {
	ts.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatalf("marshal failed: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		ts.t.Fatalf("bad request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ts.t.Fatalf("decode %s %s failed: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) mustDo(method, path string, caller common.Address, body, out interface{}) {
	ts.t.Helper()
	var errResp ErrorResponse
	if out == nil {
		out = &errResp
	}
	if code := ts.do(method, path, caller, body, out); code != http.StatusOK {
		ts.t.Fatalf("%s %s = %d, want 200", method, path, code)
	}
}

func (ts *testServer) seed(asset, user common.Address, amount int64) {
	ts.t.Helper()
	err := ts.h.Invoke("seed", exchangeAddr, host.SystemAddress, nil, func(inv *host.Invocation) error {
		return ledger.New(inv.Store(), nil).Credit(asset, user, big.NewInt(amount))
	})
	if err != nil {
		ts.t.Fatalf("seed failed: %v", err)
	}
}

func (ts *testServer) balance(asset, user common.Address) string {
	ts.t.Helper()
	var info BalanceInfo
	ts.mustDo("GET", "/api/v1/balances/"+user.Hex()+"/"+asset.Hex(), common.Address{}, nil, &info)
	return info.Balance
}

func newOrder(sender common.Address, side order.Side, amount, price, fee int64) *order.Order {
	return &order.Order{
		Sender:     sender,
		Matcher:    matcher,
		BaseAsset:  baseAddr,
		QuoteAsset: quoteAddr,
		FeeAsset:   quoteAddr,
		Amount:     big.NewInt(amount),
		Price:      big.NewInt(price),
		MatcherFee: big.NewInt(fee),
		Nonce:      big.NewInt(1),
		Expiration: 2_000_000_000,
		Side:       side,
	}
}

func TestHealthAndChainStatus(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	ts.mustDo("GET", "/health", common.Address{}, nil, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v, want ok", health)
	}

	var st ChainStatus
	ts.mustDo("GET", "/api/v1/chain/status", common.Address{}, nil, &st)
	if st.Exchange != exchangeAddr.Hex() {
		t.Errorf("exchange = %s, want %s", st.Exchange, exchangeAddr.Hex())
	}
	if st.ChainID != "1337" {
		t.Errorf("chain id = %s, want 1337", st.ChainID)
	}
	if st.RequiresSignatures {
		t.Errorf("requires signatures = true, want false")
	}
	if st.Height != 2 {
		t.Errorf("height = %d, want 2 (token inits)", st.Height)
	}
}

func TestNativeDepositAndWithdraw(t *testing.T) {
	ts := newTestServer(t)
	native := order.NativeAsset

	ts.mustDo("POST", "/api/v1/faucet", common.Address{}, FaucetRequest{Address: buyer.Hex(), Amount: "100"}, nil)
	ts.mustDo("POST", "/api/v1/deposits/native", buyer, NativeDepositRequest{Amount: "40"}, nil)
	if got := ts.balance(native, buyer); got != "40" {
		t.Errorf("ledger balance = %s, want 40", got)
	}

	var tx TxResponse
	ts.mustDo("POST", "/api/v1/withdrawals", buyer, AssetAmountRequest{Asset: native.Hex(), Amount: "15"}, &tx)
	if tx.Status != "committed" || tx.Entry != exchange.EntryWithdraw {
		t.Errorf("tx = %+v, want committed withdraw", tx)
	}
	if got := ts.balance(native, buyer); got != "25" {
		t.Errorf("ledger balance = %s, want 25", got)
	}

	var wallet BalanceInfo
	ts.mustDo("GET", "/api/v1/native/"+buyer.Hex(), common.Address{}, nil, &wallet)
	if wallet.Balance != "75" {
		t.Errorf("wallet balance = %s, want 75", wallet.Balance)
	}
}

func TestDepositWithoutPaymentFunds(t *testing.T) {
	ts := newTestServer(t)

	var e ErrorResponse
	if code := ts.do("POST", "/api/v1/deposits/native", buyer, NativeDepositRequest{Amount: "40"}, &e); code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (%+v)", code, e)
	}
	if code := ts.do("POST", "/api/v1/withdrawals", buyer, AssetAmountRequest{Asset: baseAddr.Hex(), Amount: "1"}, &e); code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (%+v)", code, e)
	}
}

func TestMissingCallerRejected(t *testing.T) {
	ts := newTestServer(t)

	var e ErrorResponse
	if code := ts.do("POST", "/api/v1/deposits/native", common.Address{}, NativeDepositRequest{Amount: "1"}, &e); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if e.Error != "invalid caller" {
		t.Errorf("error = %q, want invalid caller", e.Error)
	}
}

func TestMalformedOrderHashRejected(t *testing.T) {
	ts := newTestServer(t)

	for _, hash := range []string{"0x1234", "not-a-hash", "0x" + strings.Repeat("0", 66)} {
		for _, path := range []string{"/status", "/cancelled"} {
			var e ErrorResponse
			if code := ts.do("GET", "/api/v1/orders/"+hash+path, common.Address{}, nil, &e); code != http.StatusBadRequest {
				t.Errorf("GET %s%s = %d, want 400", hash, path, code)
				continue
			}
			if e.Error != "invalid order hash" {
				t.Errorf("error = %q, want invalid order hash", e.Error)
			}
		}
	}
}

func TestTokenDepositSettlesOnce(t *testing.T) {
	ts := newTestServer(t)
	tokens := "/api/v1/tokens/" + baseAddr.Hex()

	ts.mustDo("POST", tokens+"/mint", tokenOwner, TokenCallRequest{To: buyer.Hex(), Amount: "500"}, nil)
	ts.mustDo("POST", tokens+"/approve", buyer, TokenCallRequest{To: exchangeAddr.Hex(), Amount: "200"}, nil)
	ts.mustDo("POST", "/api/v1/deposits", buyer, AssetAmountRequest{Asset: baseAddr.Hex(), Amount: "200"}, nil)

	// not credited until the transfer settles
	if got := ts.balance(baseAddr, buyer); got != "0" {
		t.Errorf("balance before settle = %s, want 0", got)
	}
	var pending []TransferInfo
	ts.mustDo("GET", "/api/v1/transfers", common.Address{}, nil, &pending)
	if len(pending) != 1 || pending[0].Kind != "in" || pending[0].Amount != "200" {
		t.Fatalf("pending = %+v, want one inbound transfer of 200", pending)
	}

	var res TransferInfo
	path := "/api/v1/transfers/" + strconv.FormatUint(pending[0].ID, 10) + "/settle"
	ts.mustDo("POST", path, common.Address{}, nil, &res)
	if res.Success == nil || !*res.Success {
		t.Fatalf("settle = %+v, want success", res)
	}
	if got := ts.balance(baseAddr, buyer); got != "200" {
		t.Errorf("balance after settle = %s, want 200", got)
	}

	var e ErrorResponse
	if code := ts.do("POST", path, common.Address{}, nil, &e); code != http.StatusNotFound {
		t.Errorf("second settle = %d, want 404", code)
	}

	var wallet BalanceInfo
	ts.mustDo("GET", tokens+"/balances/"+buyer.Hex(), common.Address{}, nil, &wallet)
	if wallet.Balance != "300" {
		t.Errorf("token balance = %s, want 300", wallet.Balance)
	}
}

func TestTokenDepositWithoutAllowanceFails(t *testing.T) {
	ts := newTestServer(t)

	ts.mustDo("POST", "/api/v1/tokens/"+quoteAddr.Hex()+"/mint", tokenOwner, TokenCallRequest{To: buyer.Hex(), Amount: "50"}, nil)
	ts.mustDo("POST", "/api/v1/deposits", buyer, AssetAmountRequest{Asset: quoteAddr.Hex(), Amount: "50"}, nil)

	var res TransferInfo
	ts.mustDo("POST", "/api/v1/transfers/1/settle", common.Address{}, nil, &res)
	if res.Success == nil || *res.Success {
		t.Fatalf("settle = %+v, want failure", res)
	}
	if res.Reason == "" {
		t.Errorf("failed settle has no reason")
	}
	if got := ts.balance(quoteAddr, buyer); got != "0" {
		t.Errorf("balance = %s, want 0", got)
	}
}

func TestMintRequiresOwner(t *testing.T) {
	ts := newTestServer(t)

	var e ErrorResponse
	code := ts.do("POST", "/api/v1/tokens/"+baseAddr.Hex()+"/mint", buyer, TokenCallRequest{To: buyer.Hex(), Amount: "1"}, &e)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if code := ts.do("POST", "/api/v1/tokens/"+seller.Hex()+"/mint", tokenOwner, TokenCallRequest{To: buyer.Hex(), Amount: "1"}, &e); code != http.StatusNotFound {
		t.Fatalf("unknown token status = %d, want 404", code)
	}

	var list []TokenInfo
	ts.mustDo("GET", "/api/v1/tokens", common.Address{}, nil, &list)
	if len(list) != 2 || list[0].Symbol != "BASE" || list[1].Symbol != "QUOTE" {
		t.Errorf("tokens = %+v, want BASE then QUOTE", list)
	}
}

func TestFillAndCancelOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(quoteAddr, buyer, 1000)
	ts.seed(baseAddr, seller, 100)

	buy := newOrder(buyer, order.Buy, 100, 10, 2)
	sell := newOrder(seller, order.Sell, 100, 8, 2)
	req := FillRequest{
		Buy:          *order.PayloadFrom(buy),
		Sell:         *order.PayloadFrom(sell),
		FilledPrice:  "8",
		FilledAmount: "40",
	}

	var e ErrorResponse
	if code := ts.do("POST", "/api/v1/orders/fill", buyer, req, &e); code != http.StatusBadRequest {
		t.Fatalf("fill by non-matcher = %d, want 400", code)
	}
	ts.mustDo("POST", "/api/v1/orders/fill", matcher, req, nil)

	if got := ts.balance(baseAddr, buyer); got != "40" {
		t.Errorf("buyer base = %s, want 40", got)
	}

	var st OrderStatusInfo
	ts.mustDo("GET", "/api/v1/orders/"+buy.MustHash().Hex()+"/status", common.Address{}, nil, &st)
	if st.Status != order.StatusPartiallyFilled.String() || st.Cancelled {
		t.Errorf("status = %+v, want partially_filled", st)
	}

	var trades []TradeInfo
	ts.mustDo("POST", "/api/v1/orders/trades", common.Address{}, order.PayloadFrom(sell), &trades)
	if len(trades) != 1 || trades[0].Amount != "40" || trades[0].Price != "8" {
		t.Fatalf("trades = %+v, want one 40@8", trades)
	}

	var filled FilledInfo
	ts.mustDo("POST", "/api/v1/orders/filled", common.Address{}, order.PayloadFrom(buy), &filled)
	if filled.Filled != "40" || filled.Hash != buy.MustHash().Hex() {
		t.Errorf("filled = %+v, want 40", filled)
	}

	if code := ts.do("POST", "/api/v1/orders/cancel", seller, CancelRequest{Order: *order.PayloadFrom(buy)}, &e); code != http.StatusForbidden {
		t.Fatalf("cancel by non-owner = %d, want 403", code)
	}
	ts.mustDo("POST", "/api/v1/orders/cancel", buyer, CancelRequest{Order: *order.PayloadFrom(buy)}, nil)
	if code := ts.do("POST", "/api/v1/orders/cancel", buyer, CancelRequest{Order: *order.PayloadFrom(buy)}, &e); code != http.StatusConflict {
		t.Fatalf("second cancel = %d, want 409", code)
	}

	var cancelled map[string]interface{}
	ts.mustDo("GET", "/api/v1/orders/"+buy.MustHash().Hex()+"/cancelled", common.Address{}, nil, &cancelled)
	if cancelled["cancelled"] != true {
		t.Errorf("cancelled = %v, want true", cancelled)
	}

	if code := ts.do("POST", "/api/v1/orders/fill", matcher, req, &e); code != http.StatusBadRequest {
		t.Fatalf("fill after cancel = %d, want 400", code)
	}
	if got := ts.balance(baseAddr, buyer); got != "40" {
		t.Errorf("buyer base after rejected fill = %s, want 40", got)
	}
}

func TestBalancesKeepsRequestOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(quoteAddr, buyer, 7)

	var out []BalanceInfo
	path := "/api/v1/balances/" + buyer.Hex() + "?assets=" + quoteAddr.Hex() + "," + baseAddr.Hex()
	ts.mustDo("GET", path, common.Address{}, nil, &out)
	if len(out) != 2 || out[0].Balance != "7" || out[1].Balance != "0" {
		t.Errorf("balances = %+v, want [7 0]", out)
	}
}

func TestValidateOrder(t *testing.T) {
	ts := newTestServer(t)

	var ok ValidationInfo
	ts.mustDo("POST", "/api/v1/orders/validate", common.Address{}, order.PayloadFrom(newOrder(buyer, order.Buy, 10, 5, 0)), &ok)
	if !ok.Valid || ok.Hash == "" {
		t.Errorf("valid order = %+v, want valid with hash", ok)
	}

	var bad ValidationInfo
	ts.mustDo("POST", "/api/v1/orders/validate", common.Address{}, order.PayloadFrom(newOrder(buyer, order.Buy, 0, 5, 0)), &bad)
	if bad.Valid || bad.Reason == "" {
		t.Errorf("zero-amount order = %+v, want invalid with reason", bad)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.mustDo("POST", "/api/v1/faucet", common.Address{}, FaucetRequest{Address: buyer.Hex(), Amount: "10"}, nil)
	ts.mustDo("POST", "/api/v1/deposits/native", buyer, NativeDepositRequest{Amount: "10"}, nil)

	resp, err := http.Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`orionex_deposits_total{kind="native"} 1`, "orionex_invocations_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	sub := WSSubscribeRequest{Op: "subscribe", Channels: []string{string(events.KindAssetDeposited)}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	waitFor(t, func() bool { return ts.s.Hub().ClientCount() == 1 })
	// the subscription is applied asynchronously by the read pump
	time.Sleep(100 * time.Millisecond)

	ts.mustDo("POST", "/api/v1/faucet", common.Address{}, FaucetRequest{Address: buyer.Hex(), Amount: "10"}, nil)
	ts.mustDo("POST", "/api/v1/deposits/native", buyer, NativeDepositRequest{Amount: "10"}, nil)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Kind != string(events.KindAssetDeposited) {
		t.Fatalf("kind = %s, want %s", msg.Kind, events.KindAssetDeposited)
	}
	if msg.Contract != exchangeAddr.Hex() {
		t.Errorf("contract = %s, want %s", msg.Contract, exchangeAddr.Hex())
	}
	if msg.Data["amount"] != "10" || msg.Data["user"] != buyer.Hex() {
		t.Errorf("data = %v, want 10 for buyer", msg.Data)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}
