package risk

import "polyagent/internal/core"

// Severity grades a failed check.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the contribution of a failed check to the trade risk score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.1
	case SeverityMedium:
		return 0.3
	case SeverityHigh:
		return 0.6
	case SeverityCritical:
		return 1.0
	}
	return 0
}

// CheckResult is the outcome of one independent risk check. A failed check
// is data, not an error.
type CheckResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
	// ClampQty proposes a reduced quantity instead of rejecting. Only the
	// position-size check sets it.
	ClampQty *float64 `json:"clamp_qty,omitempty"`
}

// AccountDecision is the result of the account-level battery.
type AccountDecision struct {
	Approved bool          `json:"approved"`
	Checks   []CheckResult `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
	Critical []string      `json:"critical,omitempty"`
}

// TradeDecision is the result of evaluating one candidate trade.
type TradeDecision struct {
	Approved         bool          `json:"approved"`
	RiskScore        float64       `json:"risk_score"`
	ApprovedQuantity float64       `json:"approved_quantity"`
	Checks           []CheckResult `json:"checks"`
	Reason           string        `json:"reason,omitempty"`
	Intent           *core.TradeIntent
}
