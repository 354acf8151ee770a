// Package processortest provides an in-memory processor client.
package processortest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
)

// Client is a deterministic processor fake. Seed it with the Put* helpers and
// inject failures per operation with FailOn.
type Client struct {
	mu sync.Mutex

	customers     map[string]processordomain.Customer
	sessions      map[string]processordomain.Session
	subscriptions map[string]processordomain.Subscription
	intents       map[string]processordomain.PaymentIntent
	subOrder      []string
	intentOrder   []string
	idempotency   map[string]string
	failures      map[string]error

	seq   int
	Calls map[string]int
	// LastSessionRequest is the most recent CreateCheckoutSession input.
	LastSessionRequest processordomain.SessionRequest
}

func New() *Client {
	return &Client{
		customers:     map[string]processordomain.Customer{},
		sessions:      map[string]processordomain.Session{},
		subscriptions: map[string]processordomain.Subscription{},
		intents:       map[string]processordomain.PaymentIntent{},
		idempotency:   map[string]string{},
		failures:      map[string]error{},
		Calls:         map[string]int{},
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (c *Client) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

func (c *Client) PutCustomer(customer processordomain.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[customer.ID] = customer
}

func (c *Client) PutSession(session processordomain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session.ID] = session
}

func (c *Client) PutSubscription(sub processordomain.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[sub.ID]; !ok {
		c.subOrder = append(c.subOrder, sub.ID)
	}
	c.subscriptions[sub.ID] = sub
}

func (c *Client) PutPaymentIntent(intent processordomain.PaymentIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.intents[intent.ID]; !ok {
		c.intentOrder = append(c.intentOrder, intent.ID)
	}
	c.intents[intent.ID] = intent
}

func (c *Client) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[op]
}

func (c *Client) begin(op string) error {
	c.Calls[op]++
	return c.failures[op]
}

func (c *Client) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s_fake_%d", prefix, c.seq)
}

func notFound(op, id string) error {
	return &processordomain.UpstreamError{Op: op, Code: "resource_missing", StatusCode: 404, Err: fmt.Errorf("%w: %s", processordomain.ErrNotFound, id)}
}

func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*processordomain.Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("customers.list"); err != nil {
		return nil, err
	}
	for _, customer := range c.customers {
		if strings.EqualFold(customer.Email, email) {
			found := customer
			return &found, nil
		}
	}
	return nil, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email string) (*processordomain.Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("customers.create"); err != nil {
		return nil, err
	}
	customer := processordomain.Customer{ID: c.nextID("cus"), Email: email}
	c.customers[customer.ID] = customer
	return &customer, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req processordomain.SessionRequest) (*processordomain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("checkout.sessions.create"); err != nil {
		return nil, err
	}
	c.LastSessionRequest = req

	if req.IdempotencyKey != "" {
		if id, ok := c.idempotency[req.IdempotencyKey]; ok {
			session := c.sessions[id]
			return &session, nil
		}
	}

	id := c.nextID("cs_test")
	session := processordomain.Session{
		ID:            id,
		URL:           "https://checkout.stripe.test/c/pay/" + id,
		Mode:          req.Mode,
		Status:        processordomain.SessionStatusOpen,
		PaymentStatus: processordomain.PaymentStatusUnpaid,
		Customer:      processordomain.RefID[processordomain.Customer](req.CustomerID),
		AmountTotal:   req.AmountCents,
		Metadata:      req.Metadata,
		Created:       time.Now().UTC(),
	}
	c.sessions[id] = session
	if req.IdempotencyKey != "" {
		c.idempotency[req.IdempotencyKey] = id
	}
	return &session, nil
}

// GetCheckoutSession expands stored subscription and intent references the
// same way the live client does.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*processordomain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("checkout.sessions.get"); err != nil {
		return nil, err
	}
	session, ok := c.sessions[id]
	if !ok {
		return nil, notFound("checkout.sessions.get", id)
	}
	if subID := session.Subscription.ID(); subID != "" {
		if sub, ok := c.subscriptions[subID]; ok {
			session.Subscription = processordomain.Expanded(subID, &sub)
		}
	}
	if intentID := session.PaymentIntent.ID(); intentID != "" {
		if intent, ok := c.intents[intentID]; ok {
			session.PaymentIntent = processordomain.Expanded(intentID, &intent)
		}
	}
	if customerID := session.Customer.ID(); customerID != "" {
		if customer, ok := c.customers[customerID]; ok {
			session.Customer = processordomain.Expanded(customerID, &customer)
		}
	}
	return &session, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*processordomain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("subscriptions.get"); err != nil {
		return nil, err
	}
	sub, ok := c.subscriptions[id]
	if !ok {
		return nil, notFound("subscriptions.get", id)
	}
	return &sub, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*processordomain.PaymentIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("payment_intents.get"); err != nil {
		return nil, err
	}
	intent, ok := c.intents[id]
	if !ok {
		return nil, notFound("payment_intents.get", id)
	}
	return &intent, nil
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID string, from, to time.Time) ([]processordomain.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("subscriptions.list"); err != nil {
		return nil, err
	}
	var out []processordomain.Subscription
	for _, id := range c.subOrder {
		sub := c.subscriptions[id]
		if sub.CustomerID != customerID || sub.Created.Before(from) || sub.Created.After(to) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (c *Client) ListPaymentIntents(ctx context.Context, customerID string, from, to time.Time) ([]processordomain.PaymentIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("payment_intents.list"); err != nil {
		return nil, err
	}
	var out []processordomain.PaymentIntent
	for _, id := range c.intentOrder {
		intent := c.intents[id]
		if intent.CustomerID != customerID || intent.Created.Before(from) || intent.Created.After(to) {
			continue
		}
		out = append(out, intent)
	}
	return out, nil
}

var _ processordomain.Client = (*Client)(nil)
