package wallet

import (
	"fmt"
	"sort"
	"strings"
)

// Currency describes an asset the custody provider can hold.
type Currency struct {
	Symbol    string
	Name      string
	Networks  []string
	Contracts map[string]string
	Decimals  int
}

// SupportsNetwork reports whether the currency can be held on network.
func (c Currency) SupportsNetwork(network string) bool {
	for _, n := range c.Networks {
		if n == network {
			return true
		}
	}
	return false
}

// Target is one wallet to create for every provisioned user.
type Target struct {
	Currency string
	Network  string
}

func (t Target) String() string {
	return t.Currency + ":" + t.Network
}

var catalog = map[string]Currency{
	"BTC": {Symbol: "BTC", Name: "Bitcoin", Networks: []string{"Bitcoin", "BitcoinTestnet3"}, Decimals: 8},
	"ETH": {Symbol: "ETH", Name: "Ethereum", Networks: []string{"Ethereum", "ArbitrumOne", "Optimism", "Base", "EthereumSepolia"}, Decimals: 18},
	"SOL": {Symbol: "SOL", Name: "Solana", Networks: []string{"Solana", "SolanaDevnet"}, Decimals: 9},
	"USDT": {
		Symbol:   "USDT",
		Name:     "Tether USD",
		Networks: []string{"Ethereum", "ArbitrumOne", "Optimism", "Base", "Solana", "EthereumSepolia"},
		Contracts: map[string]string{
			"Ethereum":    "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			"ArbitrumOne": "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
			"Optimism":    "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
			"Solana":      "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		},
		Decimals: 6,
	},
	"USDC": {
		Symbol:   "USDC",
		Name:     "USD Coin",
		Networks: []string{"Ethereum", "ArbitrumOne", "Optimism", "Base", "Solana", "EthereumSepolia"},
		Contracts: map[string]string{
			"Ethereum":    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			"ArbitrumOne": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
			"Optimism":    "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
			"Base":        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"Solana":      "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		},
		Decimals: 6,
	},
}

// Lookup returns the catalog entry for symbol.
func Lookup(symbol string) (Currency, bool) {
	c, ok := catalog[strings.ToUpper(symbol)]
	return c, ok
}

// Catalog returns every known currency ordered by symbol.
func Catalog() []Currency {
	out := make([]Currency, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// DefaultTargets is the stablecoin pair created for every user.
func DefaultTargets(testnet bool) []Target {
	network := "Ethereum"
	if testnet {
		network = "EthereumSepolia"
	}
	return []Target{{Currency: "USDT", Network: network}, {Currency: "USDC", Network: network}}
}

// ParseSet reads "USDT:Ethereum,USDC:Ethereum". A currency without a network
// takes its first catalog network. Each currency may appear once since wallets
// are keyed by (user, currency).
func ParseSet(raw string) ([]Target, error) {
	var targets []Target
	seen := map[string]bool{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		symbol, network, _ := strings.Cut(item, ":")
		cur, ok := Lookup(strings.TrimSpace(symbol))
		if !ok {
			return nil, fmt.Errorf("unsupported currency %q", symbol)
		}
		network = strings.TrimSpace(network)
		if network == "" {
			network = cur.Networks[0]
		}
		if !cur.SupportsNetwork(network) {
			return nil, fmt.Errorf("currency %s is not available on %s", cur.Symbol, network)
		}
		if seen[cur.Symbol] {
			return nil, fmt.Errorf("currency %s listed twice", cur.Symbol)
		}
		seen[cur.Symbol] = true
		targets = append(targets, Target{Currency: cur.Symbol, Network: network})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no wallet currencies configured")
	}
	return targets, nil
}
