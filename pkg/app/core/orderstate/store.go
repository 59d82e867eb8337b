package orderstate

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/storage"
)

var (
	statusPrefix = []byte("ost|")
	tradesPrefix = []byte("otr|")
)

func StatusKey(hash common.Hash) []byte { return append(append([]byte{}, statusPrefix...), hash.Bytes()...) }
func TradesKey(hash common.Hash) []byte { return append(append([]byte{}, tradesPrefix...), hash.Bytes()...) }

// Store keeps the state derived from order hashes: one status and an
// append-only list of fills. Filled totals are always summed from the list.
type Store struct {
	kv storage.KV
}

func New(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Status returns the stored status, StatusNew if never written
func (s *Store) Status(hash common.Hash) (order.Status, error) {
	raw, err := s.kv.Get(StatusKey(hash))
	if err != nil {
		return 0, fmt.Errorf("failed to read order status: %w", err)
	}
	if len(raw) == 0 {
		return order.StatusNew, nil
	}
	st := order.Status(raw[0])
	if len(raw) != 1 || !st.Valid() {
		return 0, fmt.Errorf("corrupt order status %x for %s", raw, hash.Hex())
	}
	return st, nil
}

func (s *Store) SetStatus(hash common.Hash, st order.Status) error {
	if !st.Valid() {
		return fmt.Errorf("unknown order status %d", st)
	}
	if err := s.kv.Set(StatusKey(hash), []byte{byte(st)}); err != nil {
		return fmt.Errorf("failed to write order status: %w", err)
	}
	return nil
}

// Trades returns fills in the order they were appended
func (s *Store) Trades(hash common.Hash) ([]order.Trade, error) {
	raw, err := s.kv.Get(TradesKey(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to read order trades: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var trades []order.Trade
	if err := storage.DecodeRLP(raw, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

func (s *Store) AppendTrade(hash common.Hash, t order.Trade) error {
	trades, err := s.Trades(hash)
	if err != nil {
		return err
	}
	trades = append(trades, t)
	raw, err := storage.EncodeRLP(trades)
	if err != nil {
		return err
	}
	if err := s.kv.Set(TradesKey(hash), raw); err != nil {
		return fmt.Errorf("failed to write order trades: %w", err)
	}
	return nil
}

// FilledTotals sums filled amount and fees paid over all fills
func (s *Store) FilledTotals(hash common.Hash) (filled, fees *big.Int, err error) {
	trades, err := s.Trades(hash)
	if err != nil {
		return nil, nil, err
	}
	filled, fees = new(big.Int), new(big.Int)
	for _, t := range trades {
		if t.Amount != nil {
			filled.Add(filled, t.Amount)
		}
		if t.Fee != nil {
			fees.Add(fees, t.Fee)
		}
	}
	return filled, fees, nil
}

// IsActive is false once the order has been cancelled, fully or partially
func (s *Store) IsActive(hash common.Hash) (bool, error) {
	st, err := s.Status(hash)
	if err != nil {
		return false, err
	}
	return !st.Cancelled(), nil
}
