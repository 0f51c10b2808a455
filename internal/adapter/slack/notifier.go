// Package slack posts task outcomes to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

const (
	sendTimeout = 10 * time.Second
	maxInFlight = 8
)

// Notifier implements broadcast.Broadcaster. It forwards terminal task
// events and ignores everything else. Sends run in the background; when
// maxInFlight sends are pending further notifications are dropped.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	sem        chan struct{}
	wg         sync.WaitGroup
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: sendTimeout},
		sem:        make(chan struct{}, maxInFlight),
	}
}

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BroadcastEvent implements broadcast.Broadcaster.
func (n *Notifier) BroadcastEvent(_ context.Context, eventType, taskID string, payload any) {
	switch event.Type(eventType) {
	case event.TypeTaskCompleted, event.TypeTaskFailed, event.TypeTaskCancelled:
	default:
		return
	}
	st, ok := payload.(task.Status)
	if !ok {
		return
	}

	select {
	case n.sem <- struct{}{}:
	default:
		slog.Warn("slack notification dropped", "task_id", taskID)
		return
	}
	n.wg.Add(1)
	go func() {
		defer func() {
			<-n.sem
			n.wg.Done()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.send(ctx, messageFor(st)); err != nil {
			slog.Warn("slack notification failed", "task_id", taskID, "error", err)
		}
	}()
}

// Wait blocks until pending notifications are sent.
func (n *Notifier) Wait() { n.wg.Wait() }

func messageFor(st task.Status) slackMessage {
	header := fmt.Sprintf("%s Task %s %s", stateEmoji(st.State), st.ID, st.State)
	var body string
	switch {
	case st.Output != nil:
		body = fmt.Sprintf("Decision: *%s*\nScore: %.1f\nRevisions: %d", st.Output.Decision, st.Output.Score, st.Output.Revisions)
	case st.Error != nil:
		body = fmt.Sprintf("`%s`: %s", st.Error.Kind, st.Error.Detail)
	default:
		body = "No output."
	}
	msg := slackMessage{
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body}},
		},
	}
	if st.ActorID != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "context",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_Actor: %s_", st.ActorID)},
		})
	}
	return msg
}

// send posts one message to the webhook.
func (n *Notifier) send(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func stateEmoji(s task.State) string {
	switch s {
	case task.StateCompleted:
		return "[OK]"
	case task.StateFailed:
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}
