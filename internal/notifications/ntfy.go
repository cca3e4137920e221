package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cosflow/internal/config"
	"cosflow/internal/logging"
)

const userAgent = "cosflow/0.1.0"

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// NtfySubscriber pushes selected events to an ntfy topic. Push failures are
// logged and never unsubscribe it.
type NtfySubscriber struct {
	endpoint string
	client   *http.Client
	enabled  map[Kind]bool
	logger   *slog.Logger
}

// NewNtfySubscriber builds an ntfy subscriber, or returns nil when no topic is configured.
func NewNtfySubscriber(cfg *config.Config, logger *slog.Logger) *NtfySubscriber {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	n := cfg.Notifications
	return &NtfySubscriber{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Kind]bool{
			KindGroupCreated:       n.Groups,
			KindGroupUpdated:       false,
			KindDocumentsUploaded:  n.Uploads,
			KindMergeGenerated:     false,
			KindCirculationStarted: n.Circulation,
			KindTaskCompleted:      n.Circulation,
			KindRevisionRequested:  n.Revisions,
			KindRevisionResolved:   n.Revisions,
		},
		logger: logging.NewComponentLogger(logger, "ntfy"),
	}
}

// ID implements Subscriber.
func (n *NtfySubscriber) ID() string { return "ntfy" }

// Deliver implements Subscriber.
func (n *NtfySubscriber) Deliver(ctx context.Context, evt Event) error {
	if n == nil || !n.enabled[evt.Kind] {
		return nil
	}
	data, ok := formatPayload(evt)
	if !ok {
		return nil
	}
	if err := n.send(ctx, data); err != nil {
		logging.WarnWithContext(n.logger, "ntfy push failed", "ntfy_push_failed",
			logging.String("event", string(evt.Kind)),
			logging.GroupID(evt.GroupID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		)
	}
	return nil
}

func formatPayload(evt Event) (payload, bool) {
	group := strings.TrimSpace(evt.GroupID)
	switch evt.Kind {
	case KindGroupCreated:
		return payload{
			title:   "COS - Created",
			message: fmt.Sprintf("📄 New change order sheet: %s", group),
			tags:    []string{"cosflow", "group", "created"},
		}, true
	case KindDocumentsUploaded:
		message := fmt.Sprintf("📎 Documents uploaded to %s", group)
		if evt.StatusText != "" {
			message = fmt.Sprintf("%s (%s)", message, evt.StatusText)
		}
		return payload{
			title:   "COS - Documents Uploaded",
			message: message,
			tags:    []string{"cosflow", "upload"},
		}, true
	case KindCirculationStarted:
		return payload{
			title:   "COS - Circulation Started",
			message: fmt.Sprintf("🔁 %s issued for evaluation: %s", group, evt.StatusText),
			tags:    []string{"cosflow", "circulation", "started"},
		}, true
	case KindTaskCompleted:
		data := payload{
			title:   "COS - Task Completed",
			message: fmt.Sprintf("✅ %s: %s", group, evt.StatusText),
			tags:    []string{"cosflow", "circulation", "task"},
		}
		if evt.Field("circulationStatus") == "10" {
			data.title = "COS - Evaluation Completed"
			data.priority = "high"
		}
		return data, true
	case KindRevisionRequested:
		message := fmt.Sprintf("✏️ Revision requested on %s", group)
		if desc := evt.Field("description"); desc != "" {
			message = fmt.Sprintf("%s\n%s", message, desc)
		}
		return payload{
			title:    "COS - Revision Requested",
			message:  message,
			tags:     []string{"cosflow", "revision", "requested"},
			priority: "high",
		}, true
	case KindRevisionResolved:
		return payload{
			title:   "COS - Revision Resolved",
			message: fmt.Sprintf("🛠️ Revision resolved on %s", group),
			tags:    []string{"cosflow", "revision", "resolved"},
		}, true
	default:
		return payload{}, false
	}
}

func (n *NtfySubscriber) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
