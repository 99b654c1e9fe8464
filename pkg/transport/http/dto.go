package http

import (
	"time"

	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/stats"
)

// IngestRequest is the body of POST /v1/messages.
type IngestRequest struct {
	// ID lets the device reuse its own message id; zero lets the server assign one.
	ID         int64     `json:"id" validate:"gte=0"`
	Sender     string    `json:"sender" validate:"required,max=256"`
	Content    string    `json:"content" validate:"max=65536"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (r IngestRequest) message() model.Message {
	return model.Message{
		ID:            r.ID,
		Sender:        r.Sender,
		Content:       r.Content,
		ReceivedAt:    r.ReceivedAt,
		ForwardStatus: model.StatusPending,
	}
}

// IngestResponse is returned for asynchronous ingestion.
type IngestResponse struct {
	MessageID int64               `json:"messageId"`
	RequestID string              `json:"requestId"`
	Status    model.ForwardStatus `json:"status"`
	Queued    bool                `json:"queued"`
}

// RuleRequest is the body of rule create and update calls.
type RuleRequest struct {
	Name           string          `json:"name" validate:"required,max=128"`
	Description    string          `json:"description"`
	Enabled        *bool           `json:"enabled"`
	RuleType       model.RuleType  `json:"ruleType" validate:"required"`
	MatchType      model.MatchType `json:"matchType"`
	Keywords       []string        `json:"keywords"`
	SenderPatterns []string        `json:"senderPatterns"`
	Priority       int             `json:"priority"`
}

func (r RuleRequest) apply(dst *model.ForwardRule) {
	dst.Name = r.Name
	dst.Description = r.Description
	if r.Enabled != nil {
		dst.Enabled = *r.Enabled
	}
	dst.RuleType = r.RuleType
	dst.MatchType = r.MatchType
	if dst.MatchType == "" {
		dst.MatchType = model.MatchContains
	}
	dst.Keywords = r.Keywords
	dst.SenderPatterns = r.SenderPatterns
	dst.Priority = r.Priority
}

// DestinationRequest is the body of destination create and update calls.
// It carries the SMTP password, which is never serialized back out.
type DestinationRequest struct {
	Provider       string `json:"provider"`
	SMTPHost       string `json:"smtpHost"`
	SMTPPort       int    `json:"smtpPort"`
	SenderEmail    string `json:"senderEmail" validate:"required"`
	SenderPassword string `json:"senderPassword"`
	ReceiverEmail  string `json:"receiverEmail" validate:"required"`
	EnableTLS      bool   `json:"enableTls"`
	EnableSSL      bool   `json:"enableSsl"`
	IsDefault      bool   `json:"isDefault"`
}

func (r DestinationRequest) apply(dst *model.EmailConfig) {
	dst.Provider = r.Provider
	dst.SMTPHost = r.SMTPHost
	dst.SMTPPort = r.SMTPPort
	dst.SenderEmail = r.SenderEmail
	if r.SenderPassword != "" {
		dst.SenderPassword = r.SenderPassword
	}
	dst.ReceiverEmail = r.ReceiverEmail
	dst.EnableTLS = r.EnableTLS
	dst.EnableSSL = r.EnableSSL
}

// EnvironmentRequest is the device state pushed by the phone.
type EnvironmentRequest struct {
	BatteryLevel              *int     `json:"deviceBatteryLevel" validate:"omitempty,min=0,max=100"`
	IsCharging                *bool    `json:"deviceIsCharging"`
	IsInDozeMode              *bool    `json:"deviceIsInDozeMode"`
	NetworkType               *string  `json:"networkType"`
	BackgroundCapabilityScore *int     `json:"backgroundCapabilityScore" validate:"omitempty,min=0,max=100"`
	SystemLoad                *float64 `json:"systemLoad" validate:"omitempty,min=0"`
	VendorOptimizationActive  *bool    `json:"vendorOptimizationActive"`
	SIMSlot                   *int     `json:"simSlot" validate:"omitempty,min=0"`
	SIMOperator               *string  `json:"simOperator"`
}

func (r EnvironmentRequest) snapshot() model.EnvironmentSnapshot {
	return model.EnvironmentSnapshot{
		BatteryLevel:              r.BatteryLevel,
		IsCharging:                r.IsCharging,
		IsInDozeMode:              r.IsInDozeMode,
		NetworkType:               r.NetworkType,
		BackgroundCapabilityScore: r.BackgroundCapabilityScore,
		SystemLoad:                r.SystemLoad,
		VendorOptimizationActive:  r.VendorOptimizationActive,
		SIMSlot:                   r.SIMSlot,
		SIMOperator:               r.SIMOperator,
	}
}

// StatisticsResponse is returned by GET /v1/statistics.
type StatisticsResponse struct {
	Days    []model.ForwardStatistics `json:"days"`
	Summary stats.Summary             `json:"summary"`
}
