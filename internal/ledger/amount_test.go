package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAmountDecodesNativeDrops(t *testing.T) {
	var a Amount
	if err := json.Unmarshal([]byte(`"25000000"`), &a); err != nil {
		t.Fatalf("unmarshal native amount: %v", err)
	}
	if a.Issued {
		t.Fatal("native amount decoded as issued")
	}
	if a.Drops != 25000000 {
		t.Fatalf("drops = %d, want 25000000", a.Drops)
	}
	if got := a.DropsString(); got != "25000000" {
		t.Fatalf("DropsString() = %q, want %q", got, "25000000")
	}
}

func TestAmountDecodesIssuedCurrency(t *testing.T) {
	raw := []byte(`{"currency":"USD","issuer":"rExampleIssuer1234567890","value":"10"}`)
	var a Amount
	if err := json.Unmarshal(raw, &a); err != nil {
		t.Fatalf("unmarshal issued amount: %v", err)
	}
	if !a.Issued {
		t.Fatal("issued amount decoded as native")
	}
	if a.Currency != "USD" || a.Issuer != "rExampleIssuer1234567890" || a.Value != "10" {
		t.Fatalf("issued fields = %q/%q/%q", a.Currency, a.Issuer, a.Value)
	}
	if got := a.DropsString(); got != "0" {
		t.Fatalf("issued DropsString() = %q, want %q", got, "0")
	}
}

func TestAmountNullMeansAbsent(t *testing.T) {
	a := NativeAmount(5)
	if err := json.Unmarshal([]byte(`null`), &a); err != nil {
		t.Fatalf("unmarshal null amount: %v", err)
	}
	if a.Issued || a.Drops != 0 {
		t.Fatalf("null amount = %+v, want zero value", a)
	}
}

func TestAmountRejectsMalformedInput(t *testing.T) {
	cases := []string{`"1.5"`, `"not-a-number"`, `"-3"`, `42`, `[1]`, `true`}
	for _, raw := range cases {
		var a Amount
		err := json.Unmarshal([]byte(raw), &a)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("unmarshal %s: err = %v, want ErrInvalidAmount", raw, err)
		}
	}
}

func TestAmountRoundTripsBothForms(t *testing.T) {
	for _, a := range []Amount{
		NativeAmount(1),
		NativeAmount(0),
		{Issued: true, Currency: "EUR", Issuer: "rIssuer", Value: "0.25"},
	} {
		raw, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("marshal %v: %v", a, err)
		}
		var back Amount
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if back != a {
			t.Fatalf("round trip %v -> %s -> %v", a, raw, back)
		}
	}
}
