package bus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FrameHandler processes one decoded frame message.
type FrameHandler func(ctx context.Context, m FrameMessage)

// ConsumeFrames pulls frames with a prefetch of one and acknowledges
// after the handler returns, failed frames included: redelivering a
// frame that already broke once only stalls the queue. Blocks until
// the context is cancelled, reconnecting on broker loss.
func (c *Conn) ConsumeFrames(ctx context.Context, handler FrameHandler) {
	c.consumeLoop(ctx, FramesQueue, 1, func(d amqp.Delivery) {
		m, err := UnmarshalFrameMessage(d.Body)
		if err != nil {
			log.Printf("[ERROR] Bus: dropping malformed frame message: %v", err)
			return
		}
		handler(ctx, m)
	})
}

// ConsumeConfigUpdates binds an exclusive queue to the config exchange
// and calls the handler with the camera name of each invalidation.
func (c *Conn) ConsumeConfigUpdates(ctx context.Context, handler func(cameraName string)) {
	for ctx.Err() == nil {
		if err := c.runConfigConsumer(ctx, handler); err != nil {
			log.Printf("[ERROR] Bus: config consumer stopped: %v", err)
		}
		sleepOrDone(ctx, reconnectDelay)
	}
}

func (c *Conn) runConfigConsumer(ctx context.Context, handler func(string)) error {
	ch, err := c.consumerChannel(0)
	if err != nil {
		return err
	}
	defer ch.Close()

	// Exclusive auto-delete queue: every processor instance sees every
	// invalidation.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, RoutingKeyPipelineUpdated, ConfigExchange, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handler(string(d.Body))
		}
	}
}

// ConsumeWsEvents feeds each fan-out payload to the handler verbatim.
func (c *Conn) ConsumeWsEvents(ctx context.Context, handler func(body []byte)) {
	c.consumeLoop(ctx, WebsocketEventsQueue, 0, func(d amqp.Delivery) {
		handler(d.Body)
	})
}

// ConsumeNotifications drains the durable notification queue.
func (c *Conn) ConsumeNotifications(ctx context.Context, handler func(subject, body string)) {
	c.consumeLoop(ctx, NotificationsQueue, 1, func(d amqp.Delivery) {
		var payload struct {
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := json.Unmarshal(d.Body, &payload); err != nil {
			log.Printf("[ERROR] Bus: dropping malformed notification: %v", err)
			return
		}
		handler(payload.Subject, payload.Body)
	})
}

func (c *Conn) consumeLoop(ctx context.Context, queue string, prefetch int, handle func(amqp.Delivery)) {
	for ctx.Err() == nil {
		if err := c.runConsumer(ctx, queue, prefetch, handle); err != nil {
			log.Printf("[ERROR] Bus: consumer on %s stopped: %v", queue, err)
		}
		sleepOrDone(ctx, reconnectDelay)
	}
}

func (c *Conn) runConsumer(ctx context.Context, queue string, prefetch int, handle func(amqp.Delivery)) error {
	ch, err := c.consumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handle(d)
			if err := d.Ack(false); err != nil {
				return err
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
