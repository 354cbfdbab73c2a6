package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	SlackWebhookURL       string

	DefaultDestination    string
	EscalationDestination string
	OpsDestination        string
	RequiredChannels      string

	HighValueThreshold       float64
	DirectoryRefreshSeconds  int
	SummarizerTimeoutSeconds int
	RetrySeconds             int
	DispatchMaxAttempts      int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider (empty = local risk assessment only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for approval request notifications")
	fs.StringVar(&c.DefaultDestination, "default-destination", "", "fallback channel for orders with no assigned approver")
	fs.StringVar(&c.EscalationDestination, "escalation-destination", "", "channel for urgent orders")
	fs.StringVar(&c.OpsDestination, "ops-destination", "", "channel for operational escalations (audit failures, halted workflows)")
	fs.StringVar(&c.RequiredChannels, "required-channels", "", "comma-separated channel_type:vertical pairs that must exist in the directory at startup")
	fs.Float64Var(&c.HighValueThreshold, "high-value-threshold", 100000, "budget at or above which orders route through elevated approval")
	fs.IntVar(&c.DirectoryRefreshSeconds, "directory-refresh-seconds", 300, "channel directory refresh interval (10..3600)")
	fs.IntVar(&c.SummarizerTimeoutSeconds, "summarizer-timeout-seconds", 30, "per-order budget for the external risk summarizer (1..120)")
	fs.IntVar(&c.RetrySeconds, "retry-seconds", 15, "max elapsed time for transient-fault retry loops (1..120)")
	fs.IntVar(&c.DispatchMaxAttempts, "dispatch-max-attempts", 4, "notification delivery attempts before falling back to the default destination (1..10)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Routing needs somewhere to send orders that match no assignment
	if c.DefaultDestination == "" {
		errs = append(errs, errors.New("DEFAULT_DESTINATION is required"))
	}
	if c.EscalationDestination == "" {
		errs = append(errs, errors.New("ESCALATION_DESTINATION is required"))
	}

	if c.HighValueThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid HIGH_VALUE_THRESHOLD %.2f (must be positive)", c.HighValueThreshold))
	}
	if c.DirectoryRefreshSeconds < 10 || c.DirectoryRefreshSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid DIRECTORY_REFRESH_SECONDS %d (must be 10..3600)", c.DirectoryRefreshSeconds))
	}
	if c.SummarizerTimeoutSeconds <= 0 || c.SummarizerTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid SUMMARIZER_TIMEOUT_SECONDS %d (must be 1..120)", c.SummarizerTimeoutSeconds))
	}
	if c.RetrySeconds <= 0 || c.RetrySeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid RETRY_SECONDS %d (must be 1..120)", c.RetrySeconds))
	}
	if c.DispatchMaxAttempts <= 0 || c.DispatchMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_MAX_ATTEMPTS %d (must be 1..10)", c.DispatchMaxAttempts))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
