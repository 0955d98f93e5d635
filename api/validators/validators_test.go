package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
)

type batchBody struct {
	Currency string `json:"currency" validate:"required,currency"`
	MinCents int64  `json:"min_cents" validate:"gte=0"`
}

func TestDecodeJSONBodyValidatesCurrency(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"currency":"usd","min_cents":100}`))
	var body batchBody
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"currency":"dollars"}`))
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := pkgerrors.As(err).Details().(map[string]string)
	if details["currency"] != "must be a three-letter currency code" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"currency":"USD","amount":5}`))
	var body batchBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsNegativeMinimum(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"currency":"USD","min_cents":-1}`))
	var body batchBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=20", nil)
	got, err := ParseQueryInt(req, "limit", 10, 1, 50)
	if err != nil || got != 20 {
		t.Fatalf("got %d, %v", got, err)
	}

	req = httptest.NewRequest("GET", "/", nil)
	if got, _ := ParseQueryInt(req, "limit", 10, 1, 50); got != 10 {
		t.Fatalf("expected default, got %d", got)
	}

	req = httptest.NewRequest("GET", "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 10, 1, 50); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected range error, got %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  weekly payout  ", 6, "weekly"},
		{"payout\x00 run\n", 0, "payout run"},
		{"café crème", 4, "caf"},
		{"weekly payout", 7, "weekly"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestParseQueryCurrency(t *testing.T) {
	req := httptest.NewRequest("GET", "/?currency=eur", nil)
	if got, err := ParseQueryCurrency(req, "currency", "USD"); err != nil || got != "EUR" {
		t.Fatalf("got %q, %v", got, err)
	}

	req = httptest.NewRequest("GET", "/", nil)
	if got, _ := ParseQueryCurrency(req, "currency", "usd"); got != "USD" {
		t.Fatalf("expected default, got %q", got)
	}
	if got, _ := ParseQueryCurrency(req, "currency", ""); got != "" {
		t.Fatalf("expected any currency, got %q", got)
	}

	req = httptest.NewRequest("GET", "/?currency=dollars", nil)
	if _, err := ParseQueryCurrency(req, "currency", ""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
