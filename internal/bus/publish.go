package bus

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishFrame enqueues one captured frame for processing. Frames are
// transient: a broker restart may drop them.
func (c *Conn) PublishFrame(ctx context.Context, m FrameMessage) error {
	body, err := m.Marshal()
	if err != nil {
		return err
	}
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", FramesQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// PublishWsEvent fans a payload out to every broadcaster instance.
func (c *Conn) PublishWsEvent(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding ws event: %w", err)
	}
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, WsExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// PublishNotification queues a deferred notification. The message is
// persistent so queued alerts survive a broker restart.
func (c *Conn) PublishNotification(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{"subject": subject, "body": body})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", NotificationsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
}

// ConfigPublisher is the seam the pipeline CRUD side uses to announce
// configuration changes; Conn is the one implementation per process.
type ConfigPublisher interface {
	PublishConfigUpdate(ctx context.Context, cameraName string) error
}

// PublishConfigUpdate tells every processor that a camera's pipeline
// changed. The body is the bare camera name.
func (c *Conn) PublishConfigUpdate(ctx context.Context, cameraName string) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, ConfigExchange, RoutingKeyPipelineUpdated, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(cameraName),
	})
}
