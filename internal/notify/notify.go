// Package notify defines the structured approval-request message the
// workflow hands to a dispatcher. The message is flat and
// self-contained so dispatchers need no knowledge of the domain
// packages that produced it.
package notify

// Message is one approval request, rendered by a dispatcher for its
// medium.
type Message struct {
	OrderID      string   `json:"order_id"`
	CampaignName string   `json:"campaign_name"`
	PrincipalID  string   `json:"principal_id"`
	Budget       float64  `json:"budget"`
	Currency     string   `json:"currency"`
	FlightStart  string   `json:"flight_start"`
	FlightEnd    string   `json:"flight_end"`
	Urgent       bool     `json:"urgent"`

	ValidationSummary string   `json:"validation_summary"`
	RiskLevel         string   `json:"risk_level"`
	RiskFlags         []string `json:"risk_flags,omitempty"`
	Recommendation    string   `json:"recommendation"`
	Confidence        string   `json:"confidence"`
	Summary           string   `json:"summary"`

	MatchedRule string `json:"matched_rule"`
}
