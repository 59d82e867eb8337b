package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/events"
	"github.com/uhyunpark/orionex/pkg/storage"
)

var (
	alice  = common.HexToAddress("0xA11CE")
	bob    = common.HexToAddress("0xB0B")
	native = common.Address{}
	usdt   = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

func newTestLedger() (*Ledger, *events.Buffer, *storage.MemDB) {
	db := storage.NewMemDB()
	buf := events.NewBuffer(common.Address{})
	return New(db, buf), buf, db
}

func TestBalanceDefaultsToZero(t *testing.T) {
	l, _, _ := newTestLedger()
	bal, err := l.Balance(usdt, alice)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("balance = %s, want 0", bal)
	}
}

func TestDepositThenWithdraw(t *testing.T) {
	l, buf, db := newTestLedger()

	if err := l.Credit(native, alice, big.NewInt(50)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if err := l.Debit(native, alice, big.NewInt(20)); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	bal, _ := l.Balance(native, alice)
	if bal.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("balance = %s, want 30", bal)
	}

	evs := buf.Events()
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Kind() != events.KindAssetDeposited || evs[1].Kind() != events.KindAssetWithdrawn {
		t.Errorf("event kinds = %s, %s", evs[0].Kind(), evs[1].Kind())
	}

	// withdrawing the rest removes the key
	_ = l.Debit(native, alice, big.NewInt(30))
	if db.Len() != 0 {
		t.Errorf("store entries = %d, want 0 after draining balance", db.Len())
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	l, buf, _ := newTestLedger()
	_ = l.Credit(usdt, alice, big.NewInt(10))

	err := l.Debit(usdt, alice, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	bal, _ := l.Balance(usdt, alice)
	if bal.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("balance = %s, want 10 after failed debit", bal)
	}
	if n := len(buf.Events()); n != 1 {
		t.Errorf("events = %d, want 1 (no withdrawal event)", n)
	}
}

func TestBalancesPreservesOrder(t *testing.T) {
	l, _, _ := newTestLedger()
	_ = l.Credit(native, bob, big.NewInt(1))
	_ = l.Credit(usdt, bob, big.NewInt(2))

	got, err := l.Balances([]common.Address{usdt, alice, native}, bob)
	if err != nil {
		t.Fatalf("balances failed: %v", err)
	}
	want := []int64{2, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Cmp(big.NewInt(want[i])) != 0 {
			t.Errorf("balances[%d] = %s, want %d", i, got[i], want[i])
		}
	}
}

func TestRejectsNegativeAmounts(t *testing.T) {
	l, _, _ := newTestLedger()
	if err := l.Credit(usdt, alice, big.NewInt(-1)); err == nil {
		t.Error("expected error crediting a negative amount")
	}
	if err := l.Debit(usdt, alice, nil); err == nil {
		t.Error("expected error debiting nil")
	}
}

func TestPlanIsAllOrNothing(t *testing.T) {
	l, buf, _ := newTestLedger()
	_ = l.Credit(usdt, alice, big.NewInt(100))
	_ = l.Credit(native, bob, big.NewInt(5))
	emitted := len(buf.Events())

	// second debit fails, so the first must not land
	err := l.NewPlan().
		Debit(usdt, alice, big.NewInt(60)).
		Credit(usdt, bob, big.NewInt(60)).
		Debit(native, bob, big.NewInt(6)).
		Apply()
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	a, _ := l.Balance(usdt, alice)
	b, _ := l.Balance(usdt, bob)
	if a.Cmp(big.NewInt(100)) != 0 || b.Sign() != 0 {
		t.Errorf("balances changed after failed plan: alice=%s bob=%s", a, b)
	}

	// staged credits fund later debits
	err = l.NewPlan().
		Credit(native, alice, big.NewInt(3)).
		Debit(native, alice, big.NewInt(3)).
		Debit(usdt, alice, big.NewInt(40)).
		Credit(usdt, bob, big.NewInt(40)).
		Apply()
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	a, _ = l.Balance(usdt, alice)
	b, _ = l.Balance(usdt, bob)
	if a.Cmp(big.NewInt(60)) != 0 || b.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("alice=%s bob=%s, want 60 and 40", a, b)
	}
	if len(buf.Events()) != emitted {
		t.Error("plans must not emit deposit or withdrawal events")
	}
}

func TestBalanceKeyLayout(t *testing.T) {
	key := BalanceKey(usdt, alice)
	if len(key) != 4+40 {
		t.Fatalf("key length = %d, want 44", len(key))
	}
	if string(key[:4]) != "bal|" {
		t.Errorf("key prefix = %q, want bal|", key[:4])
	}
	if common.BytesToAddress(key[4:24]) != usdt || common.BytesToAddress(key[24:]) != alice {
		t.Error("asset/user not laid out as asset then user")
	}
}
