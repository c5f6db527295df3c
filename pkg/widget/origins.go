package widget

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/idna"
)

// ParentRule maps hostnames matching Pattern to a fixed parents list.
type ParentRule struct {
	Pattern string   `yaml:"pattern" json:"pattern"`
	Parents []string `yaml:"parents" json:"parents"`
}

type compiledRule struct {
	pattern glob.Glob
	parents []string
}

// OriginPolicy derives the allowed-embed-origins list from the hosting
// hostname.
type OriginPolicy struct {
	rules []compiledRule
}

// NewOriginPolicy compiles the given rules. Rules are evaluated in order.
func NewOriginPolicy(rules []ParentRule) (*OriginPolicy, error) {
	p := &OriginPolicy{}
	for _, r := range rules {
		g, err := glob.Compile(strings.ToLower(r.Pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid parent pattern '%s': %w", r.Pattern, err)
		}
		if len(r.Parents) == 0 {
			return nil, fmt.Errorf("parent pattern '%s' has no parents", r.Pattern)
		}
		p.rules = append(p.rules, compiledRule{pattern: g, parents: r.Parents})
	}
	return p, nil
}

// Parents returns the allowed-embed-origins for hostname. Loopback hosts
// collapse to "localhost"; unmatched hosts embed themselves.
func (p *OriginPolicy) Parents(hostname string) []string {
	host := normalizeHost(hostname)

	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return []string{"localhost"}
	}

	for _, r := range p.rules {
		if r.pattern.Match(host) {
			return append([]string(nil), r.parents...)
		}
	}

	return []string{host}
}

func normalizeHost(hostname string) string {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
