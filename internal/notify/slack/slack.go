// Package slack dispatches approval requests and operator alerts to
// Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/greenlight/internal/notify"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Dispatcher posts approval-request messages to a Slack webhook. The
// destination is carried as the channel field of the payload.
type Dispatcher struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Dispatcher. If webhookURL is empty, Dispatch fails so
// the workflow's fallback path is exercised rather than silently
// dropping the notification.
func New(webhookURL string, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Dispatch posts the approval request to destination.
func (d *Dispatcher) Dispatch(ctx context.Context, destination string, msg *notify.Message) error {
	if d.webhookURL == "" {
		return fmt.Errorf("slack: no webhook configured")
	}

	payload := map[string]any{
		"channel": destination,
		"blocks":  buildBlocks(msg),
		"text":    fmt.Sprintf("Order %s pending approval", msg.OrderID),
	}
	if err := d.post(ctx, payload); err != nil {
		return err
	}

	d.logger.Info(ctx, "approval request dispatched",
		"order_id", msg.OrderID, "destination", destination, "rule", msg.MatchedRule)
	return nil
}

// EscalateTo returns an Alerter that posts operator alerts to the
// given destination through this Dispatcher's webhook.
func (d *Dispatcher) EscalateTo(destination string) *Alerter {
	return &Alerter{d: d, destination: destination}
}

// Alerter sends operator alerts through an underlying Dispatcher.
type Alerter struct {
	d           *Dispatcher
	destination string
}

// Escalate posts subject/detail to the operator channel.
func (a *Alerter) Escalate(ctx context.Context, subject, detail string) {
	payload := map[string]any{
		"channel": a.destination,
		"text":    fmt.Sprintf(":rotating_light: %s\n%s", subject, detail),
	}
	if err := a.d.post(ctx, payload); err != nil {
		a.d.logger.Error(ctx, err, "operator alert failed", "subject", subject)
	}
}

func (d *Dispatcher) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildBlocks(m *notify.Message) []map[string]any {
	blocks := []map[string]any{
		headerBlock(m),
		{"type": "divider"},
		fieldsBlock(m),
		{"type": "divider"},
		summaryBlock(m),
	}
	if len(m.RiskFlags) > 0 {
		blocks = append(blocks, flagsBlock(m))
	}
	blocks = append(blocks,
		map[string]any{"type": "divider"},
		actionsBlock(m),
		contextBlock(m),
	)
	return blocks
}

func headerBlock(m *notify.Message) map[string]any {
	title := "Order Pending Approval"
	if m.Urgent {
		title = "URGENT: Order Pending Approval"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", riskEmoji(m.RiskLevel), title, m.CampaignName),
		},
	}
}

func fieldsBlock(m *notify.Message) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Order:* `%s`", m.OrderID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Principal:* %s", m.PrincipalID)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Budget:* %s %s", formatAmount(m.Budget), m.Currency)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Flight:* %s → %s", m.FlightStart, m.FlightEnd)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Recommendation:* %s (%s confidence)", strings.ToUpper(m.Recommendation), m.Confidence)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Risk:* %s", m.RiskLevel)},
	}
	return map[string]any{"type": "section", "fields": fields}
}

func summaryBlock(m *notify.Message) map[string]any {
	text := truncate(m.Summary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s\n\n*Validation*\n%s", text, m.ValidationSummary),
		},
	}
}

func flagsBlock(m *notify.Message) map[string]any {
	lines := make([]string, 0, len(m.RiskFlags))
	for _, f := range m.RiskFlags {
		lines = append(lines, "• "+f)
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Risk Flags*\n" + strings.Join(lines, "\n"),
		},
	}
}

func actionsBlock(m *notify.Message) map[string]any {
	return map[string]any{
		"type": "actions",
		"elements": []map[string]any{
			{
				"type":      "button",
				"text":      map[string]any{"type": "plain_text", "text": "Approve"},
				"style":     "primary",
				"action_id": "order_approve",
				"value":     m.OrderID,
			},
			{
				"type":      "button",
				"text":      map[string]any{"type": "plain_text", "text": "Reject"},
				"style":     "danger",
				"action_id": "order_reject",
				"value":     m.OrderID,
			},
			{
				"type":      "button",
				"text":      map[string]any{"type": "plain_text", "text": "Request Changes"},
				"action_id": "order_request_changes",
				"value":     m.OrderID,
			},
		},
	}
}

func contextBlock(m *notify.Message) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("greenlight • order %s • routed by %s rule • human decision required", m.OrderID, m.MatchedRule),
			},
		},
	}
}

func riskEmoji(level string) string {
	switch strings.ToLower(level) {
	case "high":
		return "\U0001f534" // red circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatAmount renders 50000 as 50,000.00.
func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot:]
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 && intPart[i-1] != '-' {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String() + frac
}
