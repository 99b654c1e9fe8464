package rule

import (
	"regexp"
	"strings"

	"github.com/kart-io/smsforward/pkg/model"
)

var baseConfidence = map[model.MatchType]float64{
	model.MatchExact:    0.95,
	model.MatchRegex:    0.85,
	model.MatchContains: 0.75,
	model.MatchPrefix:   0.65,
}

// Confidence scores how specific a matching rule is. Advisory only.
func Confidence(r model.ForwardRule) float64 {
	if r.RuleType == model.RuleCatchAll {
		return 0.3
	}
	score, ok := baseConfidence[r.MatchType]
	if !ok {
		score = 0.5
	}
	if r.RuleType == model.RuleCombined {
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

type classification struct {
	kind     model.MessageType
	priority model.MessagePriority
	keywords []string
}

// Checked in order; the first hit wins.
var classifications = []classification{
	{model.TypeVerificationCode, model.PriorityHigh, []string{
		"verification code", "verify code", "security code", "otp", "one-time", "passcode", "code is",
		"验证码", "校验码", "动态码",
	}},
	{model.TypeBanking, model.PriorityHigh, []string{
		"bank", "account", "balance", "transaction", "debit", "credit card", "payment",
		"银行", "余额", "转账", "消费", "支付",
	}},
	{model.TypeMarketing, model.PriorityLow, []string{
		"unsubscribe", "promo", "discount", "% off", "sale", "limited offer", "reply td",
		"退订", "优惠", "促销",
	}},
	{model.TypeNotification, model.PriorityNormal, []string{
		"delivery", "package", "parcel", "appointment", "reminder", "order", "shipped",
		"快递", "通知", "提醒",
	}},
}

var phoneSender = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,18}$`)

// Classify derives the advisory message type and priority from content and sender.
func Classify(msg model.Message) (model.MessageType, model.MessagePriority) {
	content := strings.ToLower(msg.Content)
	for _, c := range classifications {
		for _, kw := range c.keywords {
			if strings.Contains(content, kw) {
				return c.kind, c.priority
			}
		}
	}
	if phoneSender.MatchString(strings.TrimSpace(msg.Sender)) {
		return model.TypePersonal, model.PriorityNormal
	}
	return model.TypeUnknown, model.PriorityNormal
}
