package config

import "testing"

func TestValidateCheckoutSettings(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*CheckoutSettings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*CheckoutSettings) {}},
		{name: "negative_fixed_fee", mutate: func(c *CheckoutSettings) { c.FixedFee = -1 }, wantErr: true},
		{name: "percentage_at_one", mutate: func(c *CheckoutSettings) { c.PercentageFee = 1 }, wantErr: true},
		{name: "inverted_bounds", mutate: func(c *CheckoutSettings) { c.MinAmount = 10; c.MaxAmount = 5 }, wantErr: true},
		{name: "missing_currency", mutate: func(c *CheckoutSettings) { c.Currency = " " }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultCheckoutSettings()
			tc.mutate(&cfg)
			err := validateCheckoutSettings(cfg)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckoutSettingsHolderNilReturnsDefaults(t *testing.T) {
	var holder *CheckoutSettingsHolder
	got := holder.Get()
	if got.FixedFee != 0.30 || got.PercentageFee != 0.029 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}
