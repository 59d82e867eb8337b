package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Store struct {
	Backend string // pebble | badger | memory
	DataDir string
	// GCInterval paces badger value-log GC; ignored by other backends.
	GCInterval time.Duration
}

type API struct {
	Addr        string
	CORSOrigins []string
	Faucet      bool
}

type Exchange struct {
	Address           common.Address
	ChainID           *big.Int
	RequireSignatures bool
	// SettleInterval is how often the node settles pending token transfers.
	// Zero leaves settlement to POST /transfers/{id}/settle.
	SettleInterval time.Duration
}

// Token is a token contract deployed at node start
type Token struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
}

type Node struct {
	LogFile string
	Verbose bool
	// Owner is the devnet account that deploys and mints the configured tokens
	Owner  common.Address
	Tokens []Token
}

type Config struct {
	Store    Store
	API      API
	Exchange Exchange
	Node     Node
}

func Default() Config {
	return Config{
		Store: Store{
			Backend:    "pebble",
			DataDir:    "data",
			GCInterval: 5 * time.Minute,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			Faucet:      true, // Devnet default
		},
		Exchange: Exchange{
			Address:           common.HexToAddress("0x00000000000000000000000000000000000E0E0E"),
			ChainID:           big.NewInt(1337),
			RequireSignatures: true,
			SettleInterval:    500 * time.Millisecond,
		},
		Node: Node{
			LogFile: "data/node.log",
			Owner:   common.HexToAddress("0x0000000000000000000000000000000000000A11"),
			Tokens: []Token{
				{Address: common.HexToAddress("0x7000000000000000000000000000000000000001"), Name: "Base", Symbol: "BASE", Decimals: 18},
				{Address: common.HexToAddress("0x7000000000000000000000000000000000000002"), Name: "Quote", Symbol: "QUOTE", Decimals: 6},
			},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.DataDir = getEnv("DATA_DIR", cfg.Store.DataDir)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)

	var err error
	if cfg.Store.GCInterval, err = getDurationMs("BADGER_GC_INTERVAL_MS", cfg.Store.GCInterval); err != nil {
		return cfg, err
	}
	if cfg.Exchange.SettleInterval, err = getDurationMs("SETTLE_INTERVAL_MS", cfg.Exchange.SettleInterval); err != nil {
		return cfg, err
	}
	if cfg.Exchange.RequireSignatures, err = getBool("REQUIRE_SIGNATURES", cfg.Exchange.RequireSignatures); err != nil {
		return cfg, err
	}
	if cfg.API.Faucet, err = getBool("ENABLE_FAUCET", cfg.API.Faucet); err != nil {
		return cfg, err
	}
	if cfg.Node.Verbose, err = getBool("VERBOSE", cfg.Node.Verbose); err != nil {
		return cfg, err
	}

	if id := os.Getenv("CHAIN_ID"); id != "" {
		v, ok := new(big.Int).SetString(id, 10)
		if !ok || v.Sign() <= 0 {
			return cfg, fmt.Errorf("invalid CHAIN_ID %q", id)
		}
		cfg.Exchange.ChainID = v
	}
	if addr := os.Getenv("EXCHANGE_ADDRESS"); addr != "" {
		if cfg.Exchange.Address, err = parseAddress("EXCHANGE_ADDRESS", addr); err != nil {
			return cfg, err
		}
	}
	if addr := os.Getenv("TOKEN_OWNER"); addr != "" {
		if cfg.Node.Owner, err = parseAddress("TOKEN_OWNER", addr); err != nil {
			return cfg, err
		}
	}

	// Comma-separated list, e.g. "http://localhost:3000,https://app.example"
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	// Tokens from a comma-separated list of address:symbol:decimals
	// Example: "0x..01:BASE:18,0x..02:QUOTE:6"
	if tokens := os.Getenv("TOKENS"); tokens != "" {
		if cfg.Node.Tokens, err = parseTokens(tokens); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func parseTokens(s string) ([]Token, error) {
	var out []Token
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid TOKENS entry %q, want address:symbol:decimals", entry)
		}
		addr, err := parseAddress("TOKENS", parts[0])
		if err != nil {
			return nil, err
		}
		dec, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid decimals in TOKENS entry %q: %w", entry, err)
		}
		out = append(out, Token{Address: addr, Name: parts[1], Symbol: parts[1], Decimals: uint8(dec)})
	}
	return out, nil
}

func parseAddress(key, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDurationMs(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return def, fmt.Errorf("invalid %s %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
