// Package claude implements risk.Summarizer on the Anthropic API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/greenlight/internal/risk"
)

const responseTokens = 1024

const systemPrompt = `You are an order-review assistant for an advertising platform.

You receive an advertising order, its validation results, and deterministic risk flags.
Produce a review summary a human approver can act on without looking anything up.

Respond with ONLY a JSON object:
{
  "summary": "2-3 sentence plain-language summary of the order",
  "risk_level": "low|medium|high",
  "flags": ["additional concerns beyond the provided flags"],
  "recommendation": "approve|review|reject",
  "confidence": "high|medium|low"
}

Criteria: reject if any validation check failed; review if checks pass but
risk flags exist; approve otherwise. Flag anomalies such as unusual budgets,
new clients, or very short flights.`

// Client calls the Anthropic Messages API to summarize an order for
// approval. It implements risk.Summarizer.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Summarize sends the order context to the model and parses its
// structured reply. Any transport or parse failure is returned as an
// error; the caller's fail-open policy decides what happens next.
func (c *Client) Summarize(ctx context.Context, req *risk.SummaryRequest) (*risk.Summary, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: responseTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("claude: empty response")
	}

	return parseSummary(text)
}

// buildPrompt renders the order, validation results, and local flags
// into the user message.
func buildPrompt(req *risk.SummaryRequest) string {
	o := req.Order

	var b strings.Builder
	fmt.Fprintf(&b, "ORDER:\n")
	fmt.Fprintf(&b, "- Campaign: %s (%s)\n", o.CampaignName, o.ID)
	fmt.Fprintf(&b, "- Principal: %s (access level: %s)\n", o.PrincipalID, o.AccessLevel)
	fmt.Fprintf(&b, "- Budget: %.2f %s\n", o.Budget, o.Currency)
	fmt.Fprintf(&b, "- Flight: %s to %s (%d days)\n",
		o.FlightStart.Format("2006-01-02"), o.FlightEnd.Format("2006-01-02"), o.FlightDays())
	fmt.Fprintf(&b, "- Vertical: %s, urgent: %v\n", o.Vertical, o.Urgent)
	fmt.Fprintf(&b, "- Products: %v\n", o.ProductIDs)

	fmt.Fprintf(&b, "\nVALIDATION:\n")
	if req.Validation != nil {
		for _, c := range req.Validation.Checks {
			status := "FAIL"
			if c.Passed {
				status = "PASS"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", status, c.Name, c.Detail)
		}
	}

	fmt.Fprintf(&b, "\nRISK FLAGS: %v\n", req.LocalFlags)
	fmt.Fprintf(&b, "\nProvide your analysis as the specified JSON object.")
	return b.String()
}

// parseSummary decodes the model's JSON reply, tolerating markdown
// code fences around it.
func parseSummary(text string) (*risk.Summary, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}

	var s risk.Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &s); err != nil {
		return nil, fmt.Errorf("claude: parse response: %w", err)
	}
	if s.RiskLevel == "" || s.Recommendation == "" {
		return nil, fmt.Errorf("claude: incomplete response")
	}
	if s.Confidence == "" {
		s.Confidence = risk.ConfidenceMedium
	}
	return &s, nil
}
