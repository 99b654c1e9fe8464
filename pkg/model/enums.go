package model

// ForwardStatus is the lifecycle state of a Message.
type ForwardStatus string

const (
	StatusPending   ForwardStatus = "PENDING"
	StatusForwarded ForwardStatus = "FORWARDED"
	StatusFailed    ForwardStatus = "FAILED"
	StatusIgnored   ForwardStatus = "IGNORED"
)

// IsTerminal reports whether s is FORWARDED, FAILED or IGNORED.
func (s ForwardStatus) IsTerminal() bool {
	return s == StatusForwarded || s == StatusFailed || s == StatusIgnored
}

func (s ForwardStatus) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// RuleType selects which message fields a rule inspects.
type RuleType string

const (
	RuleKeyword  RuleType = "KEYWORD"
	RuleSender   RuleType = "SENDER"
	RuleCombined RuleType = "COMBINED"
	RuleCatchAll RuleType = "CATCH_ALL"
)

// RuleTypes lists every supported rule type.
var RuleTypes = []RuleType{RuleKeyword, RuleSender, RuleCombined, RuleCatchAll}

// MatchType selects the string predicate applied to each pattern.
type MatchType string

const (
	MatchContains MatchType = "CONTAINS"
	MatchExact    MatchType = "EXACT"
	MatchRegex    MatchType = "REGEX"
	MatchPrefix   MatchType = "PREFIX"
)

// MatchTypes lists every supported match type.
var MatchTypes = []MatchType{MatchContains, MatchExact, MatchRegex, MatchPrefix}

// FailureCategory classifies why a send attempt failed.
type FailureCategory string

const (
	FailureNetwork      FailureCategory = "NETWORK"
	FailureAuth         FailureCategory = "AUTH"
	FailureSMTPProtocol FailureCategory = "SMTP_PROTOCOL"
	FailureTimeout      FailureCategory = "TIMEOUT"
	FailurePermission   FailureCategory = "PERMISSION"
	FailureEmailConfig  FailureCategory = "EMAIL_CONFIG"
	FailureUnknown      FailureCategory = "UNKNOWN"
)

// Retryable reports whether another attempt may succeed without reconfiguration.
func (c FailureCategory) Retryable() bool {
	switch c {
	case FailureAuth, FailureEmailConfig, FailurePermission:
		return false
	default:
		return true
	}
}

// ExecutionStrategy records the delivery policy chosen for the environment.
type ExecutionStrategy string

const (
	StrategyStandard         ExecutionStrategy = "STANDARD"
	StrategyElevatedPriority ExecutionStrategy = "ELEVATED_PRIORITY"
	StrategyConservative     ExecutionStrategy = "CONSERVATIVE"
	StrategyOfflineDeferred  ExecutionStrategy = "OFFLINE_DEFERRED"
)

// MessageType is the advisory content classification of a message.
type MessageType string

const (
	TypeVerificationCode MessageType = "VERIFICATION_CODE"
	TypeBanking          MessageType = "BANKING"
	TypeNotification     MessageType = "NOTIFICATION"
	TypeMarketing        MessageType = "MARKETING"
	TypePersonal         MessageType = "PERSONAL"
	TypeUnknown          MessageType = "UNKNOWN"
)

// MessagePriority is the advisory urgency of a message.
type MessagePriority string

const (
	PriorityHigh   MessagePriority = "HIGH"
	PriorityNormal MessagePriority = "NORMAL"
	PriorityLow    MessagePriority = "LOW"
)
