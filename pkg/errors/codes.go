package errors

// Code identifies an error class.
type Code string

// Configuration codes.
const (
	CodeInvalidConfig      Code = "CON001"
	CodeNoDefaultRoute     Code = "CON002"
	CodeInvalidRule        Code = "CON003"
	CodeInvalidDestination Code = "CON004"
)

// Concurrency codes.
const (
	CodeAlreadyInProgress Code = "CNC001"
	CodeAlreadyHandled    Code = "CNC002"
	CodeLeaseLost         Code = "CNC003"
)

// Persistence codes.
const (
	CodeStore    Code = "PST001"
	CodeNotFound Code = "PST002"
)

// Execution codes.
const (
	CodeSendFailed Code = "EXE001"
	CodeCancelled  Code = "EXE002"
	CodeTemplate   Code = "EXE003"
)

// Category groups codes by origin.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryConcurrency   Category = "concurrency"
	CategoryPersistence   Category = "persistence"
	CategoryExecution     Category = "execution"
	CategoryUnknown       Category = "unknown"
)

// ErrorInfo describes a code.
type ErrorInfo struct {
	Code        Code
	Category    Category
	Description string
	Retryable   bool
}

var registry = map[Code]ErrorInfo{
	CodeInvalidConfig:      {CodeInvalidConfig, CategoryConfiguration, "invalid configuration", false},
	CodeNoDefaultRoute:     {CodeNoDefaultRoute, CategoryConfiguration, "no default email destination configured", false},
	CodeInvalidRule:        {CodeInvalidRule, CategoryConfiguration, "invalid forwarding rule", false},
	CodeInvalidDestination: {CodeInvalidDestination, CategoryConfiguration, "invalid email destination", false},
	CodeAlreadyInProgress:  {CodeAlreadyInProgress, CategoryConcurrency, "message is already being processed", false},
	CodeAlreadyHandled:     {CodeAlreadyHandled, CategoryConcurrency, "message already reached a terminal state", false},
	CodeLeaseLost:          {CodeLeaseLost, CategoryConcurrency, "processing lease expired or was reclaimed", false},
	CodeStore:              {CodeStore, CategoryPersistence, "persistence failure", true},
	CodeNotFound:           {CodeNotFound, CategoryPersistence, "entity not found", false},
	CodeSendFailed:         {CodeSendFailed, CategoryExecution, "email delivery failed", true},
	CodeCancelled:          {CodeCancelled, CategoryExecution, "processing cancelled", false},
	CodeTemplate:           {CodeTemplate, CategoryExecution, "email template rendering failed", false},
}

// GetErrorInfo returns metadata for code. Unknown codes map to CategoryUnknown.
func GetErrorInfo(code Code) ErrorInfo {
	if info, ok := registry[code]; ok {
		return info
	}
	return ErrorInfo{Code: code, Category: CategoryUnknown, Description: "unknown error"}
}

// IsRetryable reports whether errors with code may succeed on retry.
func IsRetryable(code Code) bool {
	return GetErrorInfo(code).Retryable
}
