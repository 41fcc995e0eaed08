package infrastructure

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// NATSClient is the push channel transport. Connections are
// authenticated with the current session token; a token change forces a
// reconnect that re-establishes every registered subscription under the
// new credentials.
type NATSClient struct {
	servers              string
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	mu       sync.RWMutex
	nc       *nats.Conn
	token    string
	handlers map[string]nats.MsgHandler
	subs     map[string]*nats.Subscription
}

// NewNATSClient creates a new NATS client
func NewNATSClient(servers string) *NATSClient {
	return &NATSClient{
		servers:              servers,
		reconnectDelay:       2 * time.Second,
		maxReconnectAttempts: 10,
		handlers:             make(map[string]nats.MsgHandler),
		subs:                 make(map[string]*nats.Subscription),
	}
}

// Connect establishes a connection authenticated with the given token.
func (c *NATSClient) Connect(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	return c.connectLocked()
}

func (c *NATSClient) connectLocked() error {
	opts := []nats.Option{
		nats.Name("wallet-client"),
		nats.Token(c.token),
		nats.MaxReconnects(c.maxReconnectAttempts),
		nats.ReconnectWait(c.reconnectDelay),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithFields(log.Fields{
				"subject": sub.Subject,
				"error":   err,
			}).Error("NATS async error")
		}),
	}

	nc, err := nats.Connect(c.servers, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.nc = nc

	// Re-establish every registered subscription on the new connection.
	for subject, handler := range c.handlers {
		sub, err := nc.Subscribe(subject, handler)
		if err != nil {
			log.WithFields(log.Fields{
				"subject": subject,
				"error":   err,
			}).Error("Failed to resubscribe")
			continue
		}
		c.subs[subject] = sub
	}

	log.WithField("servers", c.servers).Info("Connected to NATS")
	return nil
}

// ReconnectWithToken tears the connection down and reconnects with a new
// session token. Called whenever the session changes, in this tab or
// another.
func (c *NATSClient) ReconnectWithToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil && c.token == token && c.nc.IsConnected() {
		return nil
	}

	c.closeLocked()
	c.token = token
	if token == "" {
		log.Info("NATS channel closed, no session token")
		return nil
	}
	return c.connectLocked()
}

// Subscribe registers a handler for messages on the specified subject.
// The registration survives token reconnects.
func (c *NATSClient) Subscribe(subject string, handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgHandler := func(msg *nats.Msg) {
		handler(msg.Data)
	}
	c.handlers[subject] = msgHandler

	if c.nc == nil || !c.nc.IsConnected() {
		// Bound at the next (re)connect.
		log.WithField("subject", subject).Debug("Subscription deferred until connect")
		return nil
	}

	sub, err := c.nc.Subscribe(subject, msgHandler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs[subject] = sub
	log.WithField("subject", subject).Info("Subscribed to NATS subject")
	return nil
}

// IsConnected returns true if the client is connected to NATS
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nc != nil && c.nc.IsConnected()
}

// Close gracefully shuts down the NATS connection
func (c *NATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *NATSClient) closeLocked() {
	for subject, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.WithFields(log.Fields{
				"subject": subject,
				"error":   err,
			}).Error("Failed to unsubscribe")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
		log.Info("NATS connection closed")
	}
}
