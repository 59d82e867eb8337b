package host

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/orionex/pkg/storage"
)

var pendingKey = []byte("pending")

// TransferKind tells which way an external transfer moves funds
type TransferKind uint8

const (
	TransferIn  TransferKind = 0 // user -> initiating contract
	TransferOut TransferKind = 1 // initiating contract -> user
)

func (k TransferKind) String() string {
	if k == TransferIn {
		return "in"
	}
	return "out"
}

// PendingTransfer is an external transfer queued by a committed invocation.
// It carries everything its callback needs.
type PendingTransfer struct {
	ID        uint64
	Kind      TransferKind
	Token     common.Address
	Initiator common.Address
	User      common.Address
	Amount    *big.Int
	Height    uint64
}

// TransferResult is delivered to the initiator's callback exactly once
type TransferResult struct {
	ID      uint64
	Kind    TransferKind
	Token   common.Address
	User    common.Address
	Amount  *big.Int
	Success bool
	Reason  string // failure reason, empty on success
}

// Pending lists queued transfers in id order
func (h *Host) Pending() ([]PendingTransfer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingLocked()
}

func (h *Host) pendingLocked() ([]PendingTransfer, error) {
	return readPending(storage.Namespace(h.db, hostPrefix))
}

func readPending(kv storage.Reader) ([]PendingTransfer, error) {
	raw, err := kv.Get(pendingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending transfers: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var out []PendingTransfer
	if err := storage.DecodeRLP(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writePending(kv storage.KV, list []PendingTransfer) error {
	if len(list) == 0 {
		return kv.Delete(pendingKey)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	raw, err := storage.EncodeRLP(list)
	if err != nil {
		return err
	}
	return kv.Set(pendingKey, raw)
}

// enqueue stages transfers into inv's overlay so they commit with it
func (h *Host) enqueue(inv *Invocation, transfers []PendingTransfer) error {
	kv := inv.hostKV()
	list, err := readPending(kv)
	if err != nil {
		return err
	}
	return writePending(kv, append(list, transfers...))
}

// dequeue removes id from the queue inside inv's overlay
func dequeue(inv *Invocation, id uint64) (PendingTransfer, error) {
	kv := inv.hostKV()
	list, err := readPending(kv)
	if err != nil {
		return PendingTransfer{}, err
	}
	for i, p := range list {
		if p.ID == id {
			rest := append(list[:i:i], list[i+1:]...)
			if err := writePending(kv, rest); err != nil {
				return PendingTransfer{}, err
			}
			return p, nil
		}
	}
	return PendingTransfer{}, fmt.Errorf("%w: %d", ErrUnknownTransfer, id)
}

// Settle executes pending transfer id against its token and delivers the
// outcome to the initiator's callback. The token call, the dequeue and a
// successful callback commit as one invocation: if the callback rejects the
// transfer, the token movement is discarded and the callback receives a
// failed result instead. The transfer leaves the queue either way, so a
// second Settle of the same id fails with ErrUnknownTransfer. The returned
// error is the callback's.
func (h *Host) Settle(id uint64) (TransferResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, err := h.pendingLocked()
	if err != nil {
		return TransferResult{}, err
	}
	var p PendingTransfer
	var found bool
	for _, q := range list {
		if q.ID == id {
			p, found = q, true
			break
		}
	}
	if !found {
		return TransferResult{}, fmt.Errorf("%w: %d", ErrUnknownTransfer, id)
	}

	result := TransferResult{
		ID:      p.ID,
		Kind:    p.Kind,
		Token:   p.Token,
		User:    p.User,
		Amount:  new(big.Int).Set(p.Amount),
		Success: true,
	}
	cb, hasCallback := h.callbacks[p.Initiator]

	settleErr := h.execute("transfer_"+p.Kind.String(), p.Token, p.Initiator, nil, func(inv *Invocation) error {
		if _, err := dequeue(inv, id); err != nil {
			return err
		}
		if err := h.runToken(inv, p); err != nil {
			return err
		}
		if !hasCallback {
			return nil
		}
		return cb(inv.enter("on_transfer", p.Initiator, p.Token), result)
	})
	if settleErr == nil {
		h.logSettled(p, true)
		return result, nil
	}

	err = h.execute("drop_transfer", SystemAddress, SystemAddress, nil, func(inv *Invocation) error {
		_, err := dequeue(inv, id)
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}

	result.Success = false
	result.Reason = settleErr.Error()
	h.logSettled(p, false)

	if !hasCallback {
		return result, nil
	}
	err = h.execute("on_transfer", p.Initiator, p.Token, nil, func(inv *Invocation) error {
		return cb(inv, result)
	})
	return result, err
}

func (h *Host) logSettled(p PendingTransfer, success bool) {
	if pending, err := h.pendingLocked(); err == nil {
		h.metrics.SetPending(len(pending))
	}
	h.log.Infow("transfer_settled",
		"id", p.ID,
		"kind", p.Kind.String(),
		"token", p.Token.Hex(),
		"user", p.User.Hex(),
		"amount", p.Amount.String(),
		"success", success,
	)
}

// SettleAll settles every queued transfer in id order. Callback errors are
// logged and do not stop the sweep.
func (h *Host) SettleAll() (int, error) {
	pending, err := h.Pending()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		if _, err := h.Settle(p.ID); err != nil {
			h.log.Warnw("transfer_callback_failed", "id", p.ID, "err", err)
		}
		n++
	}
	return n, nil
}

func (h *Host) runToken(inv *Invocation, p PendingTransfer) error {
	token, ok := h.tokens[p.Token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, p.Token.Hex())
	}
	switch p.Kind {
	case TransferIn:
		return token.TransferFrom(inv, p.User, p.Initiator, p.Amount)
	case TransferOut:
		return token.Transfer(inv, p.User, p.Amount)
	default:
		return fmt.Errorf("unknown transfer kind %d", p.Kind)
	}
}
