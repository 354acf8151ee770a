// Package stripe implements the processor client on stripe-go.
package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

const listPageSize = 100

type Client struct {
	api *client.API
}

// New returns a client bound to one secret key, and therefore one mode.
func New(secretKey string) *Client {
	return &Client{api: client.New(secretKey, nil)}
}

func newWithBackends(secretKey string, backends *stripego.Backends) *Client {
	return &Client{api: client.New(secretKey, backends)}
}

func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*processordomain.Customer, error) {
	params := &stripego.CustomerListParams{Email: stripego.String(email)}
	params.Context = ctx
	params.Limit = stripego.Int64(1)

	it := c.api.Customers.List(params)
	for it.Next() {
		customer := it.Customer()
		return &processordomain.Customer{ID: customer.ID, Email: customer.Email}, nil
	}
	if err := it.Err(); err != nil {
		return nil, wrapErr("customers.list", err)
	}
	return nil, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email string) (*processordomain.Customer, error) {
	params := &stripego.CustomerParams{Email: stripego.String(email)}
	params.Context = ctx
	params.SetIdempotencyKey("customer-create:" + email)

	customer, err := c.api.Customers.New(params)
	if err != nil {
		return nil, wrapErr("customers.create", err)
	}
	return &processordomain.Customer{ID: customer.ID, Email: customer.Email}, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req processordomain.SessionRequest) (*processordomain.Session, error) {
	priceData := &stripego.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripego.String(req.Currency),
		UnitAmount: stripego.Int64(req.AmountCents),
		ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripego.String(req.ProductName),
		},
	}

	params := &stripego.CheckoutSessionParams{
		Mode:       stripego.String(string(req.Mode)),
		SuccessURL: stripego.String(req.SuccessURL),
		CancelURL:  stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			PriceData: priceData,
			Quantity:  stripego.Int64(1),
		}},
	}
	if req.CustomerID != "" {
		params.Customer = stripego.String(req.CustomerID)
	}

	metadata := make(map[string]string, len(req.Metadata))
	for key, value := range req.Metadata {
		metadata[key] = value
		params.AddMetadata(key, value)
	}
	if req.Mode == processordomain.SessionModeSubscription {
		interval := req.Interval
		if interval == "" {
			interval = "month"
		}
		priceData.Recurring = &stripego.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripego.String(interval),
		}
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	} else {
		params.PaymentIntentData = &stripego.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	}

	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapErr("checkout.sessions.create", err)
	}
	out := narrowSession(session)
	return &out, nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*processordomain.Session, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	params.AddExpand("payment_intent")
	params.AddExpand("customer")

	session, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, wrapErr("checkout.sessions.get", err)
	}
	out := narrowSession(session)
	return &out, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*processordomain.Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapErr("subscriptions.get", err)
	}
	out := narrowSubscription(sub)
	return &out, nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*processordomain.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	intent, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapErr("payment_intents.get", err)
	}
	out := narrowPaymentIntent(intent)
	return &out, nil
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID string, from, to time.Time) ([]processordomain.Subscription, error) {
	params := &stripego.SubscriptionListParams{
		Customer: stripego.String(customerID),
		Status:   stripego.String("all"),
		CreatedRange: &stripego.RangeQueryParams{
			GreaterThanOrEqual: from.Unix(),
			LesserThanOrEqual:  to.Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripego.Int64(listPageSize)

	var out []processordomain.Subscription
	it := c.api.Subscriptions.List(params)
	for it.Next() {
		out = append(out, narrowSubscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, wrapErr("subscriptions.list", err)
	}
	return out, nil
}

func (c *Client) ListPaymentIntents(ctx context.Context, customerID string, from, to time.Time) ([]processordomain.PaymentIntent, error) {
	params := &stripego.PaymentIntentListParams{
		Customer: stripego.String(customerID),
		CreatedRange: &stripego.RangeQueryParams{
			GreaterThanOrEqual: from.Unix(),
			LesserThanOrEqual:  to.Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripego.Int64(listPageSize)

	var out []processordomain.PaymentIntent
	it := c.api.PaymentIntents.List(params)
	for it.Next() {
		out = append(out, narrowPaymentIntent(it.PaymentIntent()))
	}
	if err := it.Err(); err != nil {
		return nil, wrapErr("payment_intents.list", err)
	}
	return out, nil
}

// expanded reports whether stripe-go decoded a full object rather than an id.
func expanded(object string) bool {
	return strings.TrimSpace(object) != ""
}

func narrowCustomer(c *stripego.Customer) processordomain.Ref[processordomain.Customer] {
	if c == nil {
		return processordomain.Ref[processordomain.Customer]{}
	}
	if !expanded(c.Object) {
		return processordomain.RefID[processordomain.Customer](c.ID)
	}
	return processordomain.Expanded(c.ID, &processordomain.Customer{ID: c.ID, Email: c.Email})
}

func narrowSession(s *stripego.CheckoutSession) processordomain.Session {
	out := processordomain.Session{
		ID:            s.ID,
		URL:           s.URL,
		Mode:          processordomain.SessionMode(s.Mode),
		Status:        processordomain.SessionStatus(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		Customer:      narrowCustomer(s.Customer),
		CustomerEmail: s.CustomerEmail,
		AmountTotal:   s.AmountTotal,
		Metadata:      s.Metadata,
		Created:       unixTime(s.Created),
	}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}

	if s.Subscription != nil {
		if expanded(s.Subscription.Object) {
			sub := narrowSubscription(s.Subscription)
			out.Subscription = processordomain.Expanded(sub.ID, &sub)
		} else {
			out.Subscription = processordomain.RefID[processordomain.Subscription](s.Subscription.ID)
		}
	}
	if s.PaymentIntent != nil {
		if expanded(s.PaymentIntent.Object) {
			intent := narrowPaymentIntent(s.PaymentIntent)
			out.PaymentIntent = processordomain.Expanded(intent.ID, &intent)
		} else {
			out.PaymentIntent = processordomain.RefID[processordomain.PaymentIntent](s.PaymentIntent.ID)
		}
	}
	return out
}

func narrowSubscription(s *stripego.Subscription) processordomain.Subscription {
	out := processordomain.Subscription{
		ID:                s.ID,
		Status:            processordomain.SubscriptionStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CancelAt:          unixTimePtr(s.CancelAt),
		CanceledAt:        unixTimePtr(s.CanceledAt),
		EndedAt:           unixTimePtr(s.EndedAt),
		Created:           unixTime(s.Created),
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			quantity := item.Quantity
			if quantity == 0 {
				quantity = 1
			}
			out.Amount += item.Price.UnitAmount * quantity
		}
	}
	return out
}

func narrowPaymentIntent(p *stripego.PaymentIntent) processordomain.PaymentIntent {
	out := processordomain.PaymentIntent{
		ID:         p.ID,
		Status:     processordomain.PaymentIntentStatus(p.Status),
		Amount:     p.Amount,
		CanceledAt: unixTimePtr(p.CanceledAt),
		Created:    unixTime(p.Created),
		Metadata:   p.Metadata,
	}
	if p.Customer != nil {
		out.CustomerID = p.Customer.ID
	}
	return out
}

func wrapErr(op string, err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		upstream := &processordomain.UpstreamError{
			Op:         op,
			Code:       string(stripeErr.Code),
			StatusCode: stripeErr.HTTPStatusCode,
			Err:        errors.New(stripeErr.Msg),
		}
		if stripeErr.Code == stripego.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404 {
			upstream.Err = processordomain.ErrNotFound
		}
		return upstream
	}
	return &processordomain.UpstreamError{Op: op, Err: err}
}

func unixTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func unixTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
