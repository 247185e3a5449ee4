package heuristic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedInput is returned by ExtractHost when no usable host can be
// recovered from the input.
var ErrMalformedInput = errors.New("malformed url")

const (
	NormalizedScore = 85
	HomoglyphScore  = 90
)

type Method string

const (
	MethodNone       Method = ""
	MethodPattern    Method = "pattern"
	MethodNormalized Method = "normalized"
	MethodHomoglyph  Method = "homoglyph"
)

type Verdict struct {
	Suspicious bool     `json:"suspicious"`
	Score      int      `json:"score"`
	Brand      string   `json:"brand,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	Method     Method   `json:"method,omitempty"`
	Host       string   `json:"host,omitempty"`
	Findings   []string `json:"findings,omitempty"`
}

type Checker struct {
	terminal    []Rule
	confusables []Rule
	brands      []Brand
}

func NewChecker(rules []Rule, brands []Brand) *Checker {
	c := &Checker{brands: brands}
	for _, rule := range rules {
		rule.Pattern = strings.ToLower(strings.TrimSpace(rule.Pattern))
		if rule.Pattern == "" {
			continue
		}
		if rule.Terminal {
			c.terminal = append(c.terminal, rule)
			continue
		}
		c.confusables = append(c.confusables, rule)
	}
	return c
}

var defaultChecker = NewChecker(DefaultRules(), DefaultBrands())

// CheckDomain runs the default rule table against raw.
func CheckDomain(raw string) Verdict {
	return defaultChecker.Check(raw)
}

// Check never fails: input that does not yield a host is reported as not
// suspicious.
func (c *Checker) Check(raw string) Verdict {
	host, err := ExtractHost(raw)
	if err != nil {
		return Verdict{}
	}

	for _, rule := range c.terminal {
		if host == rule.Pattern || strings.HasSuffix(host, "."+rule.Pattern) {
			return Verdict{Host: host, Brand: rule.Brand}
		}
	}

	if rule, ok := c.bestMatch(host); ok {
		return Verdict{
			Suspicious: true,
			Score:      rule.Score,
			Brand:      rule.Brand,
			Reason:     rule.Reason,
			Pattern:    rule.Pattern,
			Method:     MethodPattern,
			Host:       host,
			Findings: []string{
				fmt.Sprintf("Domain %q looks like %s: %s (%q)", host, rule.Brand, rule.Reason, rule.Pattern),
				"Known brand impersonation pattern",
			},
		}
	}

	if strings.ContainsAny(host, "0123456789") {
		normalized := normalizeDigits(host)
		for _, b := range c.brands {
			if strings.Contains(normalized, b.Key) && !strings.Contains(host, b.Key) {
				return Verdict{
					Suspicious: true,
					Score:      NormalizedScore,
					Brand:      b.Name,
					Reason:     "digits substituted for letters",
					Method:     MethodNormalized,
					Host:       host,
					Findings: []string{
						fmt.Sprintf("Domain %q reads as %q once digits are replaced with letters", host, normalized),
						fmt.Sprintf("Numbers used to imitate %s", b.Name),
					},
				}
			}
		}
	}

	if decoded, folded, ok := foldHomoglyphs(host); ok {
		for _, b := range c.brands {
			if strings.Contains(folded, b.Key) && !strings.Contains(decoded, b.Key) {
				return Verdict{
					Suspicious: true,
					Score:      HomoglyphScore,
					Brand:      b.Name,
					Reason:     "look-alike unicode characters",
					Method:     MethodHomoglyph,
					Host:       host,
					Findings: []string{
						fmt.Sprintf("Domain %q uses look-alike characters to spell %q", decoded, folded),
						fmt.Sprintf("Visual spoofing of %s", b.Name),
					},
				}
			}
		}
	}

	return Verdict{Host: host}
}

// bestMatch picks the longest matching pattern; ties go to the higher score,
// then to table order.
func (c *Checker) bestMatch(host string) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, rule := range c.confusables {
		if !strings.Contains(host, rule.Pattern) {
			continue
		}
		if !found ||
			len(rule.Pattern) > len(best.Pattern) ||
			(len(rule.Pattern) == len(best.Pattern) && rule.Score > best.Score) {
			best = rule
			found = true
		}
	}
	return best, found
}

var digitReplacer = strings.NewReplacer(
	"0", "o",
	"1", "l",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
)

func normalizeDigits(host string) string {
	return digitReplacer.Replace(host)
}

// ExtractHost strips the scheme, userinfo, port and a leading "www." and
// returns the lower-cased host.
func ExtractHost(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrMalformedInput
	}
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		s = s[idx+1:]
	}
	s = stripPort(s)
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".")
	if s == "" || strings.ContainsAny(s, " \t\r\n<>\"'\\{}|^`[]") {
		return "", ErrMalformedInput
	}
	return s, nil
}

func stripPort(s string) string {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s
	}
	port := s[idx+1:]
	for _, r := range port {
		if r < '0' || r > '9' {
			return s
		}
	}
	return s[:idx]
}
