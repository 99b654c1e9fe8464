package rule

import (
	"regexp"
	"strings"
	"sync"

	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
)

// MatchOutcome is the result of evaluating a message against a rule set.
type MatchOutcome struct {
	Matched    bool
	Rule       *model.ForwardRule
	Category   model.MessageType
	Priority   model.MessagePriority
	Confidence float64
}

// predicate tests one pattern against one subject string.
type predicate func(m *Matcher, subject, pattern string) bool

// evaluator decides whether a rule fires for a message.
type evaluator func(m *Matcher, msg model.Message, r model.ForwardRule) bool

var predicates = map[model.MatchType]predicate{
	model.MatchContains: func(_ *Matcher, s, p string) bool {
		return strings.Contains(strings.ToLower(s), strings.ToLower(p))
	},
	model.MatchPrefix: func(_ *Matcher, s, p string) bool {
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(p))
	},
	model.MatchExact: func(_ *Matcher, s, p string) bool {
		return s == p
	},
	model.MatchRegex: func(m *Matcher, s, p string) bool {
		re := m.compile(p)
		return re != nil && re.MatchString(s)
	},
}

var evaluators = map[model.RuleType]evaluator{
	model.RuleKeyword: func(m *Matcher, msg model.Message, r model.ForwardRule) bool {
		return m.any(msg.Content, r.Keywords, r)
	},
	model.RuleSender: func(m *Matcher, msg model.Message, r model.ForwardRule) bool {
		return m.any(msg.Sender, r.SenderPatterns, r)
	},
	model.RuleCombined: func(m *Matcher, msg model.Message, r model.ForwardRule) bool {
		keywords, senders := nonBlank(r.Keywords), nonBlank(r.SenderPatterns)
		if len(keywords) == 0 && len(senders) == 0 {
			return false
		}
		// An empty side places no constraint.
		if len(senders) > 0 && !m.any(msg.Sender, senders, r) {
			return false
		}
		return len(keywords) == 0 || m.any(msg.Content, keywords, r)
	},
	model.RuleCatchAll: func(*Matcher, model.Message, model.ForwardRule) bool {
		return true
	},
}

// Matcher evaluates messages against ordered rule sets. It is safe for
// concurrent use; compiled regular expressions are cached by pattern.
type Matcher struct {
	logger  logger.Logger
	regexes sync.Map // pattern -> *regexp.Regexp, nil for invalid patterns
}

// NewMatcher creates a Matcher.
func NewMatcher(l logger.Logger) *Matcher {
	return &Matcher{logger: logger.OrDiscard(l)}
}

// Decide returns the first rule, by priority desc then id asc, that matches
// msg. Callers pass only enabled rules.
func (m *Matcher) Decide(msg model.Message, rules []model.ForwardRule) MatchOutcome {
	ordered := make([]model.ForwardRule, len(rules))
	copy(ordered, rules)
	SortRules(ordered)

	category, priority := Classify(msg)
	for _, r := range ordered {
		if !m.evaluate(msg, r) {
			continue
		}
		matched := r.Clone()
		m.logger.Debug("rule matched", "messageID", msg.ID, "ruleID", r.ID, "rule", r.Name)
		return MatchOutcome{
			Matched:    true,
			Rule:       &matched,
			Category:   category,
			Priority:   priority,
			Confidence: Confidence(r),
		}
	}
	return MatchOutcome{Category: category, Priority: priority}
}

// Matches reports whether a single rule fires for msg.
func (m *Matcher) Matches(msg model.Message, r model.ForwardRule) bool {
	return m.evaluate(msg, r)
}

func (m *Matcher) evaluate(msg model.Message, r model.ForwardRule) bool {
	eval, ok := evaluators[r.RuleType]
	if !ok {
		m.logger.Warn("skipping rule with unknown type", "ruleID", r.ID, "ruleType", r.RuleType)
		return false
	}
	return eval(m, msg, r)
}

func (m *Matcher) any(subject string, patterns []string, r model.ForwardRule) bool {
	pred, ok := predicates[r.MatchType]
	if !ok {
		m.logger.Warn("skipping rule with unknown match type", "ruleID", r.ID, "matchType", r.MatchType)
		return false
	}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if pred(m, subject, p) {
			return true
		}
	}
	return false
}

func (m *Matcher) compile(pattern string) *regexp.Regexp {
	if v, ok := m.regexes.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		m.logger.Warn("invalid rule pattern treated as non-match", "pattern", pattern, "error", err)
		re = nil
	}
	v, _ := m.regexes.LoadOrStore(pattern, re)
	return v.(*regexp.Regexp)
}
