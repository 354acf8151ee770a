package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestChargedAmount(t *testing.T) {
	cases := []struct {
		name      string
		amount    string
		coverFee  bool
		wantMinor int64
	}{
		{name: "ten_with_fee", amount: "10.00", coverFee: true, wantMinor: 1060},
		{name: "ten_without_fee", amount: "10.00", coverFee: false, wantMinor: 1000},
		{name: "hundred_with_fee", amount: "100", coverFee: true, wantMinor: 10330},
		{name: "twenty_with_fee", amount: "20.00", coverFee: true, wantMinor: 2091},
		{name: "sub_cent_input", amount: "5.005", coverFee: false, wantMinor: 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			charged := ChargedAmount(decimal.RequireFromString(tc.amount), tc.coverFee, 0.30, 0.029)
			if got := MinorUnits(charged); got != tc.wantMinor {
				t.Fatalf("expected %d minor units, got %d (%s)", tc.wantMinor, got, charged)
			}
		})
	}
}

func TestValidationErrorCollects(t *testing.T) {
	verr := &ValidationError{}
	if !verr.Empty() {
		t.Fatalf("expected empty error")
	}
	verr.Add("amount", "min", "amount is below the minimum")
	verr.Add("email", "email", "email is invalid")
	if verr.Empty() || len(verr.Errors) != 2 {
		t.Fatalf("expected two field errors, got %+v", verr.Errors)
	}
	if verr.Error() != "validation error: amount:min, email:email" {
		t.Fatalf("unexpected message %q", verr.Error())
	}
}
