package bus

import (
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology shared by all services.
const (
	FramesQueue          = "frames_queue"
	WebsocketEventsQueue = "websocket_events"
	NotificationsQueue   = "notifications_queue"
	ConfigExchange       = "config_events"
	WsExchange           = "ws_exchange"

	// RoutingKeyPipelineUpdated marks config events that invalidate a
	// camera's cached pipeline. The body is the camera name.
	RoutingKeyPipelineUpdated = "pipeline.updated"

	reconnectDelay = 5 * time.Second
)

// Conn is a reconnecting AMQP connection with the platform topology
// declared on every (re)connect.
type Conn struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker and declares the topology. The first
// connection attempt fails fast; later drops are retried by channel().
func Dial(url string) (*Conn, error) {
	c := &Conn{url: url}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.ch = ch
	return nil
}

// channel returns the publish channel, reconnecting when the broker
// dropped us.
func (c *Conn) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return c.ch, nil
	}
	log.Printf("[WARN] Bus: connection lost, reconnecting")
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c.ch, nil
}

// consumerChannel opens a dedicated channel for a consumer loop so a
// slow consumer never blocks publishers.
func (c *Conn) consumerChannel(prefetch int) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening consumer channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("setting prefetch: %w", err)
		}
	}
	return ch, nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

func declareTopology(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(FramesQueue, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring %s: %w", FramesQueue, err)
	}
	if _, err := ch.QueueDeclare(WebsocketEventsQueue, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring %s: %w", WebsocketEventsQueue, err)
	}
	if _, err := ch.QueueDeclare(NotificationsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring %s: %w", NotificationsQueue, err)
	}
	if err := ch.ExchangeDeclare(ConfigExchange, "topic", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring %s: %w", ConfigExchange, err)
	}
	if err := ch.ExchangeDeclare(WsExchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring %s: %w", WsExchange, err)
	}
	if err := ch.QueueBind(WebsocketEventsQueue, "", WsExchange, false, nil); err != nil {
		return fmt.Errorf("binding %s to %s: %w", WebsocketEventsQueue, WsExchange, err)
	}
	return nil
}
