package schemes

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sigweihq/t402pay/pkg/networks"
)

// Registry routes (scheme, network) pairs to scheme implementations.
//
// A scheme registers under exact network ids ("eip155:8453") or a family
// wildcard ("eip155:*"). Lookup prefers an exact entry and falls back to the
// wildcard, so a network-specific override always wins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]FacilitatorScheme // scheme -> network pattern -> impl
}

// NewRegistry creates an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[string]FacilitatorScheme)}
}

// Register binds a scheme implementation to the given network patterns.
// Patterns are exact CAIP-2 ids or "<family>:*". Registering the same
// (scheme, pattern) twice replaces the previous entry.
func (r *Registry) Register(impl FacilitatorScheme, patterns ...string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("no network patterns given for scheme %q", impl.Scheme())
	}
	family := impl.CaipFamily()
	for _, p := range patterns {
		if networks.Family(p) != family {
			return fmt.Errorf("pattern %q does not belong to family %q", p, family)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byPattern := r.entries[impl.Scheme()]
	if byPattern == nil {
		byPattern = make(map[string]FacilitatorScheme)
		r.entries[impl.Scheme()] = byPattern
	}
	for _, p := range patterns {
		byPattern[p] = impl
	}
	return nil
}

// Get resolves the implementation for a scheme and network. Exact entries
// take precedence over the family wildcard.
func (r *Registry) Get(scheme, network string) (FacilitatorScheme, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPattern, ok := r.entries[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme: %s", scheme)
	}
	if impl, ok := byPattern[network]; ok {
		return impl, nil
	}
	if family := networks.Family(network); family != "" {
		if impl, ok := byPattern[family+":*"]; ok {
			return impl, nil
		}
	}
	return nil, fmt.Errorf("scheme %s does not support network: %s", scheme, network)
}

// HasScheme reports whether any implementation is registered for a scheme.
func (r *Registry) HasScheme(scheme string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[scheme]) > 0
}

// IsSupported reports whether a (scheme, network) pair resolves.
func (r *Registry) IsSupported(scheme, network string) bool {
	_, err := r.Get(scheme, network)
	return err == nil
}

// SupportedKinds enumerates every advertisable (scheme, network) pair.
// Wildcard entries expand to all registered networks of their family.
// The result is sorted for stable /supported responses.
func (r *Registry) SupportedKinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var kinds []Kind
	for scheme, byPattern := range r.entries {
		seen := make(map[string]bool)
		for pattern, impl := range byPattern {
			for _, network := range expandPattern(pattern) {
				if seen[network] {
					continue
				}
				seen[network] = true
				kinds = append(kinds, Kind{
					Scheme:  scheme,
					Network: network,
					Extra:   impl.GetExtra(network),
				})
			}
		}
	}
	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Scheme != kinds[j].Scheme {
			return kinds[i].Scheme < kinds[j].Scheme
		}
		return kinds[i].Network < kinds[j].Network
	})
	return kinds
}

// SignersByFamily aggregates the facilitator signer addresses of every
// registered scheme, grouped by CAIP family.
func (r *Registry) SignersByFamily() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string)
	for _, byPattern := range r.entries {
		for pattern, impl := range byPattern {
			family := impl.CaipFamily()
			for _, network := range expandPattern(pattern) {
				for _, signer := range impl.GetSigners(network) {
					if !contains(out[family], signer) {
						out[family] = append(out[family], signer)
					}
				}
			}
		}
	}
	for family := range out {
		sort.Strings(out[family])
	}
	return out
}

func expandPattern(pattern string) []string {
	if !strings.HasSuffix(pattern, ":*") {
		return []string{pattern}
	}
	family := strings.TrimSuffix(pattern, ":*")
	var ids []string
	for _, id := range networks.All() {
		if networks.Family(id) == family {
			ids = append(ids, id)
		}
	}
	return ids
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
