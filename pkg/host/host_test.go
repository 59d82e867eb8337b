package host

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/ledger"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/storage"
	"github.com/uhyunpark/orionex/pkg/util"
)

var (
	contract = common.HexToAddress("0xC0")
	tokenA   = common.HexToAddress("0x70")
	alice    = common.HexToAddress("0xA11CE")
)

// testToken keeps balances in a ledger; no allowances
type testToken struct{}

func (testToken) Transfer(ctx Context, to common.Address, amount *big.Int) error {
	return ledger.New(ctx.Store(), nil).NewPlan().
		Debit(ctx.Self(), ctx.Caller(), amount).
		Credit(ctx.Self(), to, amount).
		Apply()
}

func (testToken) TransferFrom(ctx Context, from, to common.Address, amount *big.Int) error {
	return ledger.New(ctx.Store(), nil).NewPlan().
		Debit(ctx.Self(), from, amount).
		Credit(ctx.Self(), to, amount).
		Apply()
}

func newTestHost(t *testing.T, db storage.Database) (*Host, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder(0)
	h, err := New(db, WithSink(rec), WithClock(util.NewManualClock(time.Unix(1_700_000_000, 0))))
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}
	h.RegisterToken(tokenA, testToken{})
	return h, rec
}

func mint(t *testing.T, h *Host, to common.Address, amount int64) {
	t.Helper()
	err := h.Invoke("mint", tokenA, SystemAddress, nil, func(inv *Invocation) error {
		return ledger.New(inv.Store(), nil).Credit(tokenA, to, big.NewInt(amount))
	})
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
}

func TestFailedInvocationIsDiscarded(t *testing.T) {
	db := storage.NewMemDB()
	h, rec := newTestHost(t, db)
	boom := errors.New("boom")

	err := h.Invoke("write", contract, alice, nil, func(inv *Invocation) error {
		_ = inv.Store().Set([]byte("k"), []byte("v"))
		inv.Emit(events.AssetDeposited{User: alice, Amount: big.NewInt(1)})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if db.Len() != 0 {
		t.Errorf("store entries = %d, want 0", db.Len())
	}
	if n := len(rec.Records()); n != 0 {
		t.Errorf("published events = %d, want 0", n)
	}
	if h.Height() != 0 {
		t.Errorf("height = %d, want 0", h.Height())
	}

	err = h.Invoke("write", contract, alice, nil, func(inv *Invocation) error {
		inv.Emit(events.AssetDeposited{User: alice, Amount: big.NewInt(1)})
		return inv.Store().Set([]byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	recs := rec.Records()
	if len(recs) != 1 || recs[0].Contract != contract || recs[0].Height != 1 {
		t.Errorf("records = %+v", recs)
	}
}

func TestContractStoresAreIsolated(t *testing.T) {
	h, _ := newTestHost(t, storage.NewMemDB())
	other := common.HexToAddress("0xC1")

	_ = h.Invoke("write", contract, alice, nil, func(inv *Invocation) error {
		return inv.Store().Set([]byte("k"), []byte("mine"))
	})
	_ = h.View(other, func(inv *Invocation) error {
		v, _ := inv.Store().Get([]byte("k"))
		if v != nil {
			t.Errorf("other contract read %q", v)
		}
		return nil
	})
}

func TestPaymentAndSendNative(t *testing.T) {
	h, _ := newTestHost(t, storage.NewMemDB())
	if err := h.Faucet(alice, big.NewInt(100)); err != nil {
		t.Fatalf("faucet failed: %v", err)
	}

	err := h.Invoke("pay", contract, alice, big.NewInt(101), func(inv *Invocation) error { return nil })
	if !errors.Is(err, ErrNativeFunds) {
		t.Fatalf("err = %v, want ErrNativeFunds", err)
	}

	err = h.Invoke("pay", contract, alice, big.NewInt(60), func(inv *Invocation) error {
		if inv.Payment().Cmp(big.NewInt(60)) != 0 {
			t.Errorf("payment = %s, want 60", inv.Payment())
		}
		return inv.SendNative(alice, big.NewInt(10))
	})
	if err != nil {
		t.Fatalf("pay failed: %v", err)
	}

	a, _ := h.NativeBalance(alice)
	c, _ := h.NativeBalance(contract)
	if a.Cmp(big.NewInt(50)) != 0 || c.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("alice=%s contract=%s, want 50 and 50", a, c)
	}

	// payment is refunded when the entry point fails
	_ = h.Invoke("pay", contract, alice, big.NewInt(50), func(inv *Invocation) error { return errors.New("nope") })
	a, _ = h.NativeBalance(alice)
	if a.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("alice = %s after failed call, want 50", a)
	}
}

func TestTransferQueuedOnlyOnCommit(t *testing.T) {
	h, _ := newTestHost(t, storage.NewMemDB())

	_ = h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		if _, err := inv.TransferFrom(tokenA, alice, big.NewInt(5)); err != nil {
			t.Fatalf("queue failed: %v", err)
		}
		return errors.New("abort")
	})
	pending, _ := h.Pending()
	if len(pending) != 0 {
		t.Fatalf("pending = %d after failed invocation, want 0", len(pending))
	}

	err := h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		_, err := inv.TransferFrom(common.HexToAddress("0xDEAD"), alice, big.NewInt(5))
		return err
	})
	if !errors.Is(err, ErrUnknownToken) {
		t.Errorf("err = %v, want ErrUnknownToken", err)
	}
}

func TestSettleIsSingleFire(t *testing.T) {
	h, _ := newTestHost(t, storage.NewMemDB())
	mint(t, h, alice, 10)

	var delivered []TransferResult
	h.RegisterCallback(contract, func(inv *Invocation, r TransferResult) error {
		delivered = append(delivered, r)
		return nil
	})

	var id uint64
	_ = h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		var err error
		id, err = inv.TransferFrom(tokenA, alice, big.NewInt(4))
		return err
	})

	res, err := h.Settle(id)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !res.Success || res.User != alice || res.Amount.Cmp(big.NewInt(4)) != 0 || res.Kind != TransferIn {
		t.Errorf("result = %+v", res)
	}
	if len(delivered) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(delivered))
	}

	if _, err := h.Settle(id); !errors.Is(err, ErrUnknownTransfer) {
		t.Errorf("replay err = %v, want ErrUnknownTransfer", err)
	}
	if len(delivered) != 1 {
		t.Errorf("callbacks = %d after replay, want 1", len(delivered))
	}

	var bal *big.Int
	_ = h.View(tokenA, func(inv *Invocation) error {
		bal, _ = ledger.New(inv.Store(), nil).Balance(tokenA, contract)
		return nil
	})
	if bal.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("contract token balance = %s, want 4", bal)
	}
}

func TestFailedTransferReportsFailure(t *testing.T) {
	h, _ := newTestHost(t, storage.NewMemDB())
	mint(t, h, alice, 3)

	var got TransferResult
	h.RegisterCallback(contract, func(inv *Invocation, r TransferResult) error {
		got = r
		return nil
	})
	_ = h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		_, err := inv.TransferFrom(tokenA, alice, big.NewInt(4))
		return err
	})

	n, err := h.SettleAll()
	if err != nil || n != 1 {
		t.Fatalf("SettleAll = %d, %v; want 1, nil", n, err)
	}
	if got.Success || got.Reason == "" {
		t.Errorf("result = %+v, want failure with reason", got)
	}
	pending, _ := h.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 after failed settle", len(pending))
	}
}

func TestRejectedCallbackDiscardsTokenMove(t *testing.T) {
	h, rec := newTestHost(t, storage.NewMemDB())
	mint(t, h, alice, 10)

	var results []TransferResult
	h.RegisterCallback(contract, func(inv *Invocation, r TransferResult) error {
		results = append(results, r)
		if r.Success {
			inv.Emit(events.AssetDeposited{User: r.User, Amount: r.Amount})
			return errors.New("rejected")
		}
		return nil
	})
	_ = h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		_, err := inv.TransferFrom(tokenA, alice, big.NewInt(4))
		return err
	})
	rec.Reset()

	pending, _ := h.Pending()
	res, err := h.Settle(pending[0].ID)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if res.Success || res.Reason != "rejected" {
		t.Errorf("result = %+v, want failure with reason rejected", res)
	}
	if len(results) != 2 || !results[0].Success || results[1].Success {
		t.Errorf("callback results = %+v, want a success attempt then the failure", results)
	}
	if n := len(rec.Records()); n != 0 {
		t.Errorf("published events = %d, want 0", n)
	}

	var bal *big.Int
	_ = h.View(tokenA, func(inv *Invocation) error {
		bal, _ = ledger.New(inv.Store(), nil).Balance(tokenA, alice)
		return nil
	})
	if bal.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("alice token balance = %s, want 10", bal)
	}
	if pending, _ := h.Pending(); len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestCallbackEventsCommitWithTransfer(t *testing.T) {
	h, rec := newTestHost(t, storage.NewMemDB())
	mint(t, h, alice, 10)
	h.RegisterCallback(contract, func(inv *Invocation, r TransferResult) error {
		inv.Emit(events.AssetDeposited{User: r.User, Amount: r.Amount})
		return inv.Store().Set([]byte("seen"), []byte{1})
	})
	_ = h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		_, err := inv.TransferFrom(tokenA, alice, big.NewInt(4))
		return err
	})
	rec.Reset()

	if _, err := h.SettleAll(); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	recs := rec.Records()
	if len(recs) != 1 || recs[0].Contract != contract {
		t.Errorf("records = %+v, want one event from the callback contract", recs)
	}
	_ = h.View(contract, func(inv *Invocation) error {
		if v, _ := inv.Store().Get([]byte("seen")); v == nil {
			t.Error("callback write not committed")
		}
		return nil
	})
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	db := storage.NewMemDB()
	h, _ := newTestHost(t, db)
	_ = h.Invoke("pull", contract, alice, nil, func(inv *Invocation) error {
		_, err := inv.TransferFrom(tokenA, alice, big.NewInt(1))
		return err
	})

	h2, _ := newTestHost(t, db)
	if h2.Height() != 1 {
		t.Errorf("height = %d, want 1", h2.Height())
	}
	pending, _ := h2.Pending()
	if len(pending) != 1 || pending[0].User != alice {
		t.Errorf("pending = %+v, want one transfer for alice", pending)
	}
}
