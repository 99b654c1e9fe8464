package rule

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/model"
)

// DefaultRules is the baseline rule set installed into an empty store.
func DefaultRules() []model.ForwardRule {
	return []model.ForwardRule{
		{
			Name:        "Verification codes",
			Description: "One-time passwords and login codes",
			Enabled:     true,
			RuleType:    model.RuleKeyword,
			MatchType:   model.MatchContains,
			Keywords:    []string{"verification code", "验证码", "otp", "one-time", "code is"},
			Priority:    100,
		},
		{
			Name:        "Banking alerts",
			Description: "Account, balance and transaction notices",
			Enabled:     true,
			RuleType:    model.RuleKeyword,
			MatchType:   model.MatchContains,
			Keywords:    []string{"bank", "balance", "transaction", "银行", "余额"},
			Priority:    50,
		},
		{
			Name:        "Forward everything",
			Description: "Fallback for messages no other rule claims",
			Enabled:     true,
			RuleType:    model.RuleCatchAll,
			MatchType:   model.MatchContains,
			Priority:    0,
		},
	}
}

// InitializeDefaults installs DefaultRules when the store holds no rules.
// It returns the number of rules created.
func InitializeDefaults(ctx context.Context, store Store) (int, error) {
	n, err := store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	created := 0
	for _, r := range DefaultRules() {
		r := r
		if err := store.Create(ctx, &r); err != nil {
			return created, fmt.Errorf("create default rule %q: %w", r.Name, err)
		}
		created++
	}
	return created, nil
}

// Validate checks that r is well formed.
func Validate(r model.ForwardRule) error {
	invalid := errors.New(errors.CodeInvalidRule, "invalid rule")

	if strings.TrimSpace(r.Name) == "" {
		return invalid.WithDetails("name is required")
	}
	if _, ok := evaluators[r.RuleType]; !ok {
		return invalid.WithDetails("unknown rule type %q", r.RuleType)
	}
	if r.RuleType == model.RuleCatchAll {
		return nil
	}
	if _, ok := predicates[r.MatchType]; !ok {
		return invalid.WithDetails("unknown match type %q", r.MatchType)
	}

	keywords, senders := nonBlank(r.Keywords), nonBlank(r.SenderPatterns)
	switch r.RuleType {
	case model.RuleKeyword:
		if len(keywords) == 0 {
			return invalid.WithDetails("keyword rule needs at least one keyword")
		}
	case model.RuleSender:
		if len(senders) == 0 {
			return invalid.WithDetails("sender rule needs at least one sender pattern")
		}
	case model.RuleCombined:
		if len(keywords) == 0 && len(senders) == 0 {
			return invalid.WithDetails("combined rule needs keywords or sender patterns")
		}
	}

	if r.MatchType == model.MatchRegex {
		for _, p := range append(keywords, senders...) {
			if _, err := regexp.Compile(p); err != nil {
				return invalid.WithDetails("pattern %q: %v", p, err)
			}
		}
	}
	return nil
}

func nonBlank(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
