package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/uhyunpark/orionex/pkg/app/core/order"
	"github.com/uhyunpark/orionex/pkg/crypto"
)

func main() {
	var (
		keyHex     = flag.String("key", "", "private key hex (generated when empty)")
		exchange   = flag.String("exchange", "0x00000000000000000000000000000000000E0E0E", "exchange contract address")
		matcher    = flag.String("matcher", "0x00000000000000000000000000000000000000AA", "matcher address")
		base       = flag.String("base", "0x7000000000000000000000000000000000000001", "base asset")
		quote      = flag.String("quote", "0x7000000000000000000000000000000000000002", "quote asset")
		side       = flag.String("side", "buy", "buy or sell")
		amount     = flag.String("amount", "100", "base amount")
		price      = flag.String("price", "10", "quote per base unit")
		fee        = flag.String("fee", "1", "matcher fee, paid in the quote asset")
		nonce      = flag.String("nonce", "", "order nonce (random when empty)")
		expiration = flag.Uint64("expiration", 4_102_444_800, "unix expiry")
	)
	flag.Parse()

	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		fmt.Fprintln(os.Stderr, "Generating new keypair...")
		signer, err = crypto.GenerateKey()
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fail("key", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())
	}

	// Step 2: Create order
	if *nonce == "" {
		n, err := crypto.GenerateNonce()
		if err != nil {
			fail("nonce", err)
		}
		*nonce = new(big.Int).SetUint64(n).String()
	}
	p := &order.Payload{
		Sender:     signer.Address().Hex(),
		Matcher:    *matcher,
		BaseAsset:  *base,
		QuoteAsset: *quote,
		FeeAsset:   *quote,
		Amount:     *amount,
		Price:      *price,
		MatcherFee: *fee,
		Nonce:      *nonce,
		Expiration: fmt.Sprint(*expiration),
		Side:       *side,
	}
	o, err := p.ToOrder()
	if err != nil {
		fail("order", err)
	}

	// Step 3: Sign order with EIP-712
	exchangeAddr, err := order.ParseAddress(*exchange)
	if err != nil {
		fail("exchange", err)
	}
	v, err := order.NewValidator(crypto.DefaultDomain(exchangeAddr))
	if err != nil {
		fail("domain", err)
	}
	if err := v.Sign(o, signer); err != nil {
		fail("sign", err)
	}

	// Step 4: Verify signature
	if err := v.Validate(o); err != nil {
		fail("verify", err)
	}

	// Step 5: Serialize to JSON
	out, err := json.MarshalIndent(order.PayloadFrom(o), "", "  ")
	if err != nil {
		fail("marshal", err)
	}

	fmt.Fprintf(os.Stderr, "Order Hash: %s\n", o.MustHash().Hex())
	fmt.Fprintln(os.Stderr, "Signature VALID")
	fmt.Fprintln(os.Stderr, "Use as buy/sell in POST /api/v1/orders/fill or as order in /api/v1/orders/cancel")
	fmt.Println(string(out))
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
