package ratelimit

import (
	"time"
)

// Rule names used by the API.
const (
	RuleAPI         = "api"
	RuleIngestion   = "ingestion"
	RuleIngestionIP = "ingestion_ip"
	RuleBulk        = "bulk"
)

// Rule is a named limit of Max requests per trailing Window.
type Rule struct {
	Name   string
	Max    int
	Window time.Duration
}

// WindowSeconds returns the window rounded up to whole seconds.
func (r Rule) WindowSeconds() int {
	return ceilSeconds(r.Window.Milliseconds())
}

// Rules is a rule set keyed by name.
type Rules map[string]Rule

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		RuleAPI:         {Name: RuleAPI, Max: 100, Window: time.Minute},
		RuleIngestion:   {Name: RuleIngestion, Max: 60, Window: time.Minute},
		RuleIngestionIP: {Name: RuleIngestionIP, Max: 300, Window: time.Minute},
		RuleBulk:        {Name: RuleBulk, Max: 10, Window: time.Minute},
	}
}

// With returns a copy of r with the named rule overridden. Non-positive
// values keep the existing setting. Unknown names add a new rule.
func (r Rules) With(name string, maxRequests int, window time.Duration) Rules {
	out := make(Rules, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	rule, ok := out[name]
	if !ok {
		rule = Rule{Name: name, Max: 1, Window: time.Minute}
	}
	if maxRequests > 0 {
		rule.Max = maxRequests
	}
	if window > 0 {
		rule.Window = window
	}
	out[name] = rule
	return out
}

// Get returns the named rule, falling back to the api rule.
func (r Rules) Get(name string) Rule {
	if rule, ok := r[name]; ok {
		return rule
	}
	return r[RuleAPI]
}
