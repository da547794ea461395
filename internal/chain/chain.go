package chain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Chain describes one EVM network the provider can query.
type Chain struct {
	Key           string   `mapstructure:"key"`
	Name          string   `mapstructure:"name"`
	ChainID       int64    `mapstructure:"chain_id"`
	RPCURL        string   `mapstructure:"rpc_url"`
	VaultResolver string   `mapstructure:"vault_resolver"`
	Explorer      string   `mapstructure:"explorer"`
	Aliases       []string `mapstructure:"aliases"`
	// Monitored chains take part in the periodic scan; the rest are only searched on lookups.
	Monitored bool `mapstructure:"monitored"`
	Order     int  `mapstructure:"order"`
}

// ExplorerURL links to an address page, or the explorer root when address is empty.
func (c Chain) ExplorerURL(address string) string {
	base := strings.TrimRight(c.Explorer, "/")
	if address == "" {
		return base
	}
	return fmt.Sprintf("%s/address/%s", base, address)
}

// Registry resolves chain identifiers (key, alias or numeric id).
type Registry struct {
	chains  []Chain
	byKey   map[string]Chain
	aliases map[string]string
}

// NewRegistry indexes chains; keys and aliases are matched case-insensitively.
func NewRegistry(chains []Chain) (*Registry, error) {
	r := &Registry{
		byKey:   make(map[string]Chain, len(chains)),
		aliases: make(map[string]string),
	}
	for _, c := range chains {
		key := normalize(c.Key)
		if key == "" {
			return nil, fmt.Errorf("chain key must not be empty")
		}
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate chain key %q", key)
		}
		c.Key = key
		if c.Name == "" {
			c.Name = key
		}
		r.byKey[key] = c
		r.chains = append(r.chains, c)
		for _, alias := range c.Aliases {
			r.aliases[normalize(alias)] = key
		}
	}
	sort.SliceStable(r.chains, func(i, j int) bool { return r.chains[i].Order < r.chains[j].Order })
	return r, nil
}

// Lookup finds a chain by key, alias, or chain id.
func (r *Registry) Lookup(identifier string) (Chain, bool) {
	id := normalize(identifier)
	if c, ok := r.byKey[id]; ok {
		return c, true
	}
	if key, ok := r.aliases[id]; ok {
		return r.byKey[key], true
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		for _, c := range r.chains {
			if c.ChainID == n {
				return c, true
			}
		}
	}
	return Chain{}, false
}

// Name returns the display name for an identifier, falling back to the identifier itself.
func (r *Registry) Name(identifier string) string {
	if c, ok := r.Lookup(identifier); ok {
		return c.Name
	}
	return identifier
}

// All returns every chain in configured order.
func (r *Registry) All() []Chain {
	out := make([]Chain, len(r.chains))
	copy(out, r.chains)
	return out
}

// Monitored returns the chains covered by the periodic scan.
func (r *Registry) Monitored() []Chain {
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		if c.Monitored {
			out = append(out, c)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
