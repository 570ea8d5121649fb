// Package slack pages escalated alerts to Slack via incoming webhooks.
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

	"github.com/linnemanlabs/warden/internal/alerting"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts escalations to a Slack webhook. It implements
// alerting.EscalationNotifier.
type Notifier struct {
	webhookURL   string
	dashboardURL string
	client       *http.Client
	logger       log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyEscalation
// is a no-op. dashboardURL, when set, is linked from every message as
// <dashboardURL>/alerts/<id>.
func New(webhookURL, dashboardURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL:   webhookURL,
		dashboardURL: strings.TrimRight(dashboardURL, "/"),
		client:       &http.Client{Timeout: httpTimeout},
		logger:       logger,
	}
}

// NotifyEscalation posts an escalated alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) NotifyEscalation(ctx context.Context, e *alerting.Event, entry *alerting.AuditEntry) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := n.buildMessage(e, entry)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "escalation posted to slack", "alert_id", e.ID, "target", e.EscalatedTo)
	return nil
}

func (n *Notifier) buildMessage(e *alerting.Event, entry *alerting.AuditEntry) map[string]any {
	blocks := []map[string]any{
		headerBlock(e),
		{"type": "divider"},
		fieldsBlock(e, entry),
		{"type": "divider"},
		messageBlock(e),
		{"type": "divider"},
		contextBlock(e, entry),
	}
	if n.dashboardURL != "" {
		blocks = append(blocks, n.linkBlock(e))
	}
	return map[string]any{
		"text":   fallbackText(e),
		"blocks": blocks,
	}
}

func headerBlock(e *alerting.Event) map[string]any {
	text := fmt.Sprintf("%s Escalated: %s", severityEmoji(e.Severity), e.Type)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(e *alerting.Event, entry *alerting.AuditEntry) map[string]any {
	target := e.EscalatedTo
	if target == "" {
		target = "_no on-call target found_"
	}
	actor := alerting.SystemActor
	if entry != nil && entry.Actor != "" {
		actor = entry.Actor
	}

	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", e.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*On call:* %s", target),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Client:* %s", e.ClientID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Entity:* %s/%s", e.EntityType, e.EntityID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Priority:* %.0f", e.PriorityScore),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Escalated by:* %s", actor),
		},
	}
	if e.SuppressedCount > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Repeats:* %d", e.SuppressedCount),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func messageBlock(e *alerting.Event) map[string]any {
	text := truncate(e.Message, maxMessageLen)
	if text == "" {
		text = "_No message._"
	}
	if e.EscalationReason != "" {
		text += "\n\n*Reason:* " + truncate(e.EscalationReason, 500)
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(e *alerting.Event, entry *alerting.AuditEntry) map[string]any {
	ts := e.UpdatedAt
	if entry != nil && !entry.CreatedAt.IsZero() {
		ts = entry.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • alert %s • tenant %s • %s", e.ID, e.TenantID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func (n *Notifier) linkBlock(e *alerting.Event) map[string]any {
	return map[string]any{
		"type": "actions",
		"elements": []map[string]any{
			{
				"type": "button",
				"text": map[string]any{
					"type": "plain_text",
					"text": "Open alert",
				},
				"url": n.dashboardURL + "/alerts/" + e.ID,
			},
		},
	}
}

func fallbackText(e *alerting.Event) string {
	return fmt.Sprintf("%s %s alert %s escalated", e.Severity, e.Type, e.ID)
}

func severityEmoji(sev alerting.Severity) string {
	switch sev {
	case alerting.SeverityCritical, alerting.SeverityHigh:
		return "\U0001f534" // red circle
	case alerting.SeverityMedium:
		return "\U0001f7e0" // orange circle
	case alerting.SeverityLow:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
