package tools

import "strings"

// Option is the fixed set free-form payment choices normalize into
type Option string

const (
	OptionApplyNew       Option = "apply-new"
	OptionCareCreditCard Option = "carecredit-card"
	OptionAccountLookup  Option = "account-lookup"
	OptionPlan           Option = "plan"
)

// optionRules are checked in order; the first rule with a matching
// substring wins. Anything unmatched falls back to OptionPlan.
var optionRules = []struct {
	option Option
	words  []string
}{
	{OptionApplyNew, []string{"apply", "new card", "sign up"}},
	{OptionCareCreditCard, []string{"carecredit", "care credit", "card"}},
	{OptionAccountLookup, []string{"account", "lookup", "look up", "existing"}},
}

// NormalizeOption coerces the model's wording into an Option.
func NormalizeOption(text string) Option {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return OptionPlan
	}
	for _, rule := range optionRules {
		for _, w := range rule.words {
			if strings.Contains(t, w) {
				return rule.option
			}
		}
	}
	return OptionPlan
}
