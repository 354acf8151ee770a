package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	stripego "github.com/stripe/stripe-go/v82"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		URL:               stripego.String(srv.URL),
		MaxNetworkRetries: stripego.Int64(0),
	})
	return newWithBackends("sk_test_123", &stripego.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestFindCustomerByEmail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("email"); got != "donor@example.com" {
			t.Fatalf("expected email filter, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[{"id":"cus_1","object":"customer","email":"donor@example.com"}]}`))
	})

	customer, err := client.FindCustomerByEmail(context.Background(), "donor@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if customer == nil || customer.ID != "cus_1" {
		t.Fatalf("expected cus_1, got %+v", customer)
	}
}

func TestGetCheckoutSessionNarrowsExpandedReferences(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"cs_test_1","object":"checkout.session","mode":"subscription","status":"complete",
			"payment_status":"paid","url":null,"amount_total":1060,"created":1700000000,
			"customer":{"id":"cus_1","object":"customer","email":"donor@example.com"},
			"customer_details":{"email":"donor@example.com"},
			"subscription":{"id":"sub_1","object":"subscription","status":"active","cancel_at_period_end":false,"created":1700000000,"customer":"cus_1"},
			"payment_intent":null,
			"metadata":{"frequency":"monthly"}
		}`))
	})

	session, err := client.GetCheckoutSession(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, ok := session.Subscription.Object()
	if !ok {
		t.Fatalf("expected expanded subscription")
	}
	if sub.Status != processordomain.SubscriptionStatusActive || sub.CustomerID != "cus_1" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if !session.PaymentIntent.IsZero() {
		t.Fatalf("expected no payment intent reference")
	}
	if session.Email() != "donor@example.com" || !session.Paid() {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription: 'sub_missing'"}}`))
	})

	_, err := client.GetSubscription(context.Background(), "sub_missing")
	if !errors.Is(err, processordomain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var upstream *processordomain.UpstreamError
	if !errors.As(err, &upstream) || upstream.Op != "subscriptions.get" {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestNarrowSubscriptionAmountAndTimes(t *testing.T) {
	sub := narrowSubscription(&stripego.Subscription{
		ID:                "sub_1",
		Status:            stripego.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
		CancelAt:          1700003600,
		Customer:          &stripego.Customer{ID: "cus_1"},
		Items: &stripego.SubscriptionItemList{Data: []*stripego.SubscriptionItem{
			{Price: &stripego.Price{UnitAmount: 2500}, Quantity: 2},
		}},
	})

	if sub.Amount != 5000 {
		t.Fatalf("expected 5000, got %d", sub.Amount)
	}
	if sub.CancelAt == nil || sub.CancelAt.Unix() != 1700003600 {
		t.Fatalf("unexpected cancel_at %v", sub.CancelAt)
	}
	if sub.CanceledAt != nil {
		t.Fatalf("expected nil canceled_at")
	}
}

func TestNarrowSessionBareReferences(t *testing.T) {
	session := narrowSession(&stripego.CheckoutSession{
		ID:            "cs_1",
		Customer:      &stripego.Customer{ID: "cus_1"},
		PaymentIntent: &stripego.PaymentIntent{ID: "pi_1"},
	})
	if _, ok := session.PaymentIntent.Object(); ok {
		t.Fatalf("bare payment intent must not narrow to an object")
	}
	if session.PaymentIntent.ID() != "pi_1" || session.Customer.ID() != "cus_1" {
		t.Fatalf("unexpected ids %+v", session)
	}
}
