package model

import "time"

// EnvironmentSnapshot is a best-effort capture of device state.
// Nil fields were not available at sampling time.
type EnvironmentSnapshot struct {
	BatteryLevel              *int     `json:"deviceBatteryLevel,omitempty"`
	IsCharging                *bool    `json:"deviceIsCharging,omitempty"`
	IsInDozeMode              *bool    `json:"deviceIsInDozeMode,omitempty"`
	NetworkType               *string  `json:"networkType,omitempty"`
	BackgroundCapabilityScore *int     `json:"backgroundCapabilityScore,omitempty"`
	SystemLoad                *float64 `json:"systemLoad,omitempty"`
	VendorOptimizationActive  *bool    `json:"vendorOptimizationActive,omitempty"`
	SIMSlot                   *int     `json:"simSlot,omitempty"`
	SIMOperator               *string  `json:"simOperator,omitempty"`
}

// ForwardRecord is the persisted outcome for one message.
type ForwardRecord struct {
	ID            int64  `json:"id"`
	SMSID         int64  `json:"smsId"`
	EmailConfigID *int64 `json:"emailConfigId,omitempty"`
	MatchedRuleID *int64 `json:"matchedRuleId,omitempty"`

	Sender       string `json:"sender"`
	Content      string `json:"content"`
	EmailSubject string `json:"emailSubject"`
	EmailBody    string `json:"emailBody"`

	Status       ForwardStatus `json:"status"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	RetryCount   int           `json:"retryCount"`

	Timestamp           time.Time  `json:"timestamp"`
	ProcessingTime      *int64     `json:"processingTime,omitempty"`
	ExecutionDurationMs *int64     `json:"executionDurationMs,omitempty"`
	EmailSendDurationMs *int64     `json:"emailSendDurationMs,omitempty"`
	QueueWaitTimeMs     *int64     `json:"queueWaitTimeMs,omitempty"`
	ProcessingDelayMs   *int64     `json:"processingDelayMs,omitempty"`
	OriginalTimestamp   *time.Time `json:"originalTimestamp,omitempty"`

	Environment EnvironmentSnapshot `json:"environment"`

	ExecutionStrategy ExecutionStrategy `json:"executionStrategy,omitempty"`
	MessageType       MessageType       `json:"messageType,omitempty"`
	MessagePriority   MessagePriority   `json:"messagePriority,omitempty"`
	ConfidenceScore   *float64          `json:"confidenceScore,omitempty"`
	FailureCategory   FailureCategory   `json:"failureCategory,omitempty"`
	IsAutoRetry       bool              `json:"isAutoRetry"`
}

// ForwardStatistics is the rollup for one calendar day.
type ForwardStatistics struct {
	Date                  string  `json:"date"`
	TotalReceived         int64   `json:"totalReceived"`
	TotalForwarded        int64   `json:"totalForwarded"`
	TotalFailed           int64   `json:"totalFailed"`
	TotalIgnored          int64   `json:"totalIgnored"`
	AverageProcessingTime float64 `json:"averageProcessingTime"`
	ProcessingSamples     int64   `json:"processingSamples"`
	SuccessRate           float64 `json:"successRate"`
}

// DateLayout is the key format of ForwardStatistics.Date.
const DateLayout = "2006-01-02"

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Clone returns a deep copy of r.
func (r ForwardRecord) Clone() ForwardRecord {
	c := r
	c.EmailConfigID = clonePtr(r.EmailConfigID)
	c.MatchedRuleID = clonePtr(r.MatchedRuleID)
	c.ProcessingTime = clonePtr(r.ProcessingTime)
	c.ExecutionDurationMs = clonePtr(r.ExecutionDurationMs)
	c.EmailSendDurationMs = clonePtr(r.EmailSendDurationMs)
	c.QueueWaitTimeMs = clonePtr(r.QueueWaitTimeMs)
	c.ProcessingDelayMs = clonePtr(r.ProcessingDelayMs)
	c.OriginalTimestamp = clonePtr(r.OriginalTimestamp)
	c.ConfidenceScore = clonePtr(r.ConfidenceScore)
	c.Environment = r.Environment.Clone()
	return c
}

// Clone returns a deep copy of s.
func (s EnvironmentSnapshot) Clone() EnvironmentSnapshot {
	return EnvironmentSnapshot{
		BatteryLevel:              clonePtr(s.BatteryLevel),
		IsCharging:                clonePtr(s.IsCharging),
		IsInDozeMode:              clonePtr(s.IsInDozeMode),
		NetworkType:               clonePtr(s.NetworkType),
		BackgroundCapabilityScore: clonePtr(s.BackgroundCapabilityScore),
		SystemLoad:                clonePtr(s.SystemLoad),
		VendorOptimizationActive:  clonePtr(s.VendorOptimizationActive),
		SIMSlot:                   clonePtr(s.SIMSlot),
		SIMOperator:               clonePtr(s.SIMOperator),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
