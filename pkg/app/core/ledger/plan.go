package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type posting struct {
	asset  common.Address
	user   common.Address
	amount *big.Int
	credit bool
}

// Plan stages balance changes that must land together. Apply replays them in
// order against a scratch copy and writes only if every debit is covered.
// Planned changes emit no deposit or withdrawal events.
type Plan struct {
	l        *Ledger
	postings []posting
}

func (l *Ledger) NewPlan() *Plan {
	return &Plan{l: l}
}

func (p *Plan) Credit(asset, user common.Address, amount *big.Int) *Plan {
	p.postings = append(p.postings, posting{asset, user, amount, true})
	return p
}

func (p *Plan) Debit(asset, user common.Address, amount *big.Int) *Plan {
	p.postings = append(p.postings, posting{asset, user, amount, false})
	return p
}

// Len returns the number of staged postings
func (p *Plan) Len() int { return len(p.postings) }

// Apply checks every posting, then writes the resulting balances
func (p *Plan) Apply() error {
	type slot struct {
		asset, user common.Address
	}
	scratch := make(map[slot]*big.Int)
	var touched []slot

	for _, e := range p.postings {
		if err := checkAmount(e.amount); err != nil {
			return err
		}
		if e.amount.Sign() == 0 {
			continue
		}
		s := slot{e.asset, e.user}
		bal, ok := scratch[s]
		if !ok {
			var err error
			if bal, err = p.l.Balance(e.asset, e.user); err != nil {
				return err
			}
			scratch[s] = bal
			touched = append(touched, s)
		}
		if e.credit {
			bal.Add(bal, e.amount)
			continue
		}
		if bal.Cmp(e.amount) < 0 {
			return fmt.Errorf("%w: %s of %s has %s, needs %s", ErrInsufficientFunds, e.user.Hex(), e.asset.Hex(), bal, e.amount)
		}
		bal.Sub(bal, e.amount)
	}

	for _, s := range touched {
		if err := p.l.put(s.asset, s.user, scratch[s]); err != nil {
			return err
		}
	}
	p.postings = nil
	return nil
}
