package provider

import (
	"strings"
	"sync"
)

type tokenInfo struct {
	Symbol   string
	Decimals uint8
}

var unknownToken = tokenInfo{Symbol: "Unknown", Decimals: 18}

var nativeToken = tokenInfo{Symbol: "ETH", Decimals: 18}

// knownTokens short-circuits metadata calls for common assets.
var knownTokens = map[string]tokenInfo{
	"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee": nativeToken,
	"0x0000000000000000000000000000000000000000": nativeToken,
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": {"WETH", 18},
	"0x7f39c581f595b53c5cb19bd0b3f8da6c935e2ca0": {"wstETH", 18},
	"0x40d16fc0246ad3160ccc09b8d0d3a2cd28ae6c2f": {"GHO", 18},
	"0x80ac24aa929eaf5013f6436cda2a7ba190f5cc0b": {"syrupUSDC", 6},
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {"USDC", 6},
	"0xdac17f958d2ee523a2206206994597c13d831ec7": {"USDT", 6},
}

// tokenCache remembers ERC-20 metadata per chain and token address.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]tokenInfo
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]tokenInfo)}
}

func tokenKey(chainKey, address string) string {
	return chainKey + ":" + strings.ToLower(address)
}

func (c *tokenCache) get(chainKey, address string) (tokenInfo, bool) {
	if info, ok := knownTokens[strings.ToLower(address)]; ok {
		return info, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[tokenKey(chainKey, address)]
	return info, ok
}

func (c *tokenCache) put(chainKey, address string, info tokenInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tokenKey(chainKey, address)] = info
}
