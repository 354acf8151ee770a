package domain

import (
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestIdentityValidate(t *testing.T) {
	id := snowflake.ID(42)
	zero := snowflake.ID(0)
	email := "donor@example.com"
	blank := "  "

	cases := []struct {
		name     string
		identity Identity
		wantErr  bool
	}{
		{name: "account_only", identity: Identity{AccountID: &id}},
		{name: "email_only", identity: Identity{Email: &email}},
		{name: "both", identity: Identity{AccountID: &id, Email: &email}, wantErr: true},
		{name: "neither", identity: Identity{}, wantErr: true},
		{name: "zero_account", identity: Identity{AccountID: &zero}, wantErr: true},
		{name: "blank_email", identity: Identity{Email: &blank}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.identity.Validate()
			if tc.wantErr && !errors.Is(err, ErrIdentityConstraint) {
				t.Fatalf("expected identity constraint error, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEmailIdentityNormalizes(t *testing.T) {
	identity := EmailIdentity("  Donor@Example.COM ")
	if identity.Email == nil || *identity.Email != "donor@example.com" {
		t.Fatalf("expected normalized email, got %v", identity.Email)
	}
}

func TestUpstreamReference(t *testing.T) {
	sub := "sub_123"
	pi := "pi_123"

	monthly := Entry{Frequency: FrequencyMonthly, StripeSubscriptionID: &sub, StripePaymentIntentID: &pi}
	if got := monthly.UpstreamReference(); got != sub {
		t.Fatalf("expected subscription reference, got %q", got)
	}

	oneTime := Entry{Frequency: FrequencyOneTime, StripeSubscriptionID: &sub, StripePaymentIntentID: &pi}
	if got := oneTime.UpstreamReference(); got != pi {
		t.Fatalf("expected intent reference, got %q", got)
	}

	if got := (Entry{}).UpstreamReference(); got != "" {
		t.Fatalf("expected empty reference, got %q", got)
	}
}

func TestReceiptTargetKind(t *testing.T) {
	bestie := "bestie-1"
	if (Receipt{SponsorBestieID: &bestie}).TargetKind() != KindSponsorship {
		t.Fatalf("expected sponsorship target")
	}
	if (Receipt{}).TargetKind() != KindDonation {
		t.Fatalf("expected donation target")
	}
	if !(Receipt{}).Orphaned() {
		t.Fatalf("expected orphaned receipt")
	}
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(" LIVE "); err != nil || mode != ModeLive {
		t.Fatalf("expected live mode, got %q %v", mode, err)
	}
	if _, err := ParseMode("staging"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}
