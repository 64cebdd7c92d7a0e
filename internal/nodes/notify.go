package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-analytics/internal/vision"
)

const defaultAlertTemplate = "Alerta: {count} objeto(s) detectado(s) na câmera {camera}."

// formatAlert expands the {count} and {camera} placeholders of a
// notification template.
func formatAlert(template string, count int, camera string) string {
	msg := strings.ReplaceAll(template, "{count}", fmt.Sprintf("%d", count))
	return strings.ReplaceAll(msg, "{camera}", camera)
}

// notificationNode queues a deferred notification through the broker
// when detections reach it. Delivery failures never propagate into the
// pipeline result.
type notificationNode struct {
	id       string
	template string
}

func newNotificationNode(id string, config map[string]any) Node {
	return &notificationNode{
		id:       id,
		template: cfgString(config, "message", defaultAlertTemplate),
	}
}

func (n *notificationNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil || len(input.Detections) == 0 || tools.Notifier == nil {
		return &Output{}, nil
	}

	subject := fmt.Sprintf("Alerta do Pipeline: %s", tools.PipelineName)
	body := formatAlert(n.template, len(input.Detections), tools.CameraName)
	if err := tools.Notifier.PublishNotification(ctx, subject, body); err != nil {
		log.Printf("[ERROR] Notification Node %s: publishing: %v", n.id, err)
	} else {
		log.Printf("Notification Node %s: notification queued for pipeline %q", n.id, tools.PipelineName)
	}
	return &Output{}, nil
}

// telegramNode posts an alert to the Telegram Bot API. Token and chat
// are configured per node on the graph.
type telegramNode struct {
	id       string
	botToken string
	chatID   string
	template string
	http     *http.Client

	// apiBase is overridable in tests.
	apiBase string
}

func newTelegramNode(id string, config map[string]any) Node {
	return &telegramNode{
		id:       id,
		botToken: cfgString(config, "bot_token", ""),
		chatID:   cfgString(config, "chat_id", ""),
		template: cfgString(config, "message", defaultAlertTemplate),
		http:     &http.Client{Timeout: 10 * time.Second},
		apiBase:  "https://api.telegram.org",
	}
}

func (n *telegramNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input == nil || len(input.Detections) == 0 {
		return &Output{}, nil
	}
	if n.botToken == "" || n.chatID == "" {
		log.Printf("[WARN] Telegram Node %s: bot token or chat id missing, skipping notification", n.id)
		return &Output{}, nil
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.chatID,
		"text":       formatAlert(n.template, len(input.Detections), tools.CameraName),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return &Output{}, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("[ERROR] Telegram Node %s: building request: %v", n.id, err)
		return &Output{}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		log.Printf("[ERROR] Telegram Node %s: sending notification: %v", n.id, err)
		return &Output{}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[ERROR] Telegram Node %s: Telegram API returned status %d", n.id, resp.StatusCode)
		return &Output{}, nil
	}

	log.Printf("Telegram Node %s: notification delivered to chat %s", n.id, n.chatID)
	return &Output{}, nil
}

// emailNode is a placeholder until an SMTP relay is wired in.
type emailNode struct {
	id string
}

func newEmailNode(id string, config map[string]any) Node {
	return &emailNode{id: id}
}

func (n *emailNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input != nil && len(input.Detections) > 0 {
		log.Printf("[WARN] Email Node %s: email delivery not configured, skipping", n.id)
	}
	return &Output{}, nil
}

// whatsAppNode is a placeholder until a WhatsApp provider is wired in.
type whatsAppNode struct {
	id string
}

func newWhatsAppNode(id string, config map[string]any) Node {
	return &whatsAppNode{id: id}
}

func (n *whatsAppNode) Execute(ctx context.Context, frame *vision.Frame, input *Output, tools *Tools) (*Output, error) {
	if input != nil && len(input.Detections) > 0 {
		log.Printf("[WARN] WhatsApp Node %s: WhatsApp delivery not configured, skipping", n.id)
	}
	return &Output{}, nil
}
