package ratelimit

import "github.com/dkrish7/osprey/model"

// Tier holds the two budgets every request is checked against: the general
// per-user window and the tool-execution window. Both must pass.
type Tier struct {
	General model.RateSpec
	Tool    model.RateSpec
}

const hourMs = 60 * 60 * 1000

var tiers = map[string]Tier{
	"free": {
		General: model.RateSpec{Max: 100, WindowMs: hourMs},
		Tool:    model.RateSpec{Max: 10, WindowMs: hourMs},
	},
	"pro": {
		General: model.RateSpec{Max: 1000, WindowMs: hourMs},
		Tool:    model.RateSpec{Max: 100, WindowMs: hourMs},
	},
	"admin": {
		General: model.RateSpec{Max: 10000, WindowMs: hourMs},
		Tool:    model.RateSpec{Max: 1000, WindowMs: hourMs},
	},
}

// TierFor resolves a role to its budgets, defaulting unknown roles to free.
func TierFor(role string) Tier {
	if t, ok := tiers[role]; ok {
		return t
	}
	return tiers["free"]
}
