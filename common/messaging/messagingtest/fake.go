// Package messagingtest provides an in-process messaging.Client for tests.
package messagingtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reconhawk/reconhawk-stack/common/messaging"
)

// Client delivers published messages synchronously to matching subscribers and
// records everything that was published. Queue groups are treated as plain
// subscriptions.
type Client struct {
	mu         sync.Mutex
	subs       []*subscription
	published  []messaging.Message
	disconnect bool
	failWith   error
}

var _ messaging.Client = (*Client)(nil)

func New() *Client { return &Client{} }

// SetConnected toggles what IsConnected reports.
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	c.disconnect = !connected
	c.mu.Unlock()
}

// FailPublish makes every following publish return err.
func (c *Client) FailPublish(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

// Published returns the messages published to subject, in order.
func (c *Client) Published(subject string) []messaging.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []messaging.Message
	for _, m := range c.published {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

// Deliver hands msg to the subscribers of msg.Subject and returns the first handler
// error.
func (c *Client) Deliver(ctx context.Context, msg *messaging.Message) error {
	c.mu.Lock()
	var handlers []messaging.MessageHandler
	for _, s := range c.subs {
		if s.valid && s.subject == msg.Subject {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	var first error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.failWith != nil {
		err := c.failWith
		c.mu.Unlock()
		return err
	}
	msg := messaging.Message{Subject: subject, Data: append([]byte(nil), data...), Timestamp: time.Now()}
	c.published = append(c.published, msg)
	c.mu.Unlock()
	return c.Deliver(ctx, &msg)
}

func (c *Client) PublishJSON(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.Publish(ctx, subject, data)
}

// Request is not supported by the fake.
func (c *Client) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, errors.New("messagingtest: request/reply not supported")
}

func (c *Client) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return c.QueueSubscribe(subject, "", handler)
}

func (c *Client) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	s := &subscription{client: c, subject: subject, queue: queue, handler: handler, valid: true}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s, nil
}

// Subscriptions returns the number of active subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.subs {
		if s.valid {
			n++
		}
	}
	return n
}

func (c *Client) Drain() error { return c.Close() }

func (c *Client) Close() error {
	c.mu.Lock()
	for _, s := range c.subs {
		s.valid = false
	}
	c.disconnect = true
	c.mu.Unlock()
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnect
}

type subscription struct {
	client  *Client
	subject string
	queue   string
	handler messaging.MessageHandler
	valid   bool
}

func (s *subscription) Unsubscribe() error {
	s.client.mu.Lock()
	s.valid = false
	s.client.mu.Unlock()
	return nil
}

func (s *subscription) Subject() string { return s.subject }

func (s *subscription) IsValid() bool {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.valid
}
