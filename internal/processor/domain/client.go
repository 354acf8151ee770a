package domain

import (
	"context"
	"time"
)

// Client is the mode-scoped processor API. One instance never serves more
// than one credential.
type Client interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email string) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error)
	// GetCheckoutSession expands subscription, payment intent and customer.
	GetCheckoutSession(ctx context.Context, id string) (*Session, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	// ListSubscriptions returns the customer's subscriptions created in [from, to], in processor order.
	ListSubscriptions(ctx context.Context, customerID string, from, to time.Time) ([]Subscription, error)
	ListPaymentIntents(ctx context.Context, customerID string, from, to time.Time) ([]PaymentIntent, error)
}
