package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// allowLoopback disables SSRF validation so tests can serve from 127.0.0.1
func allowLoopback(t *testing.T) {
	old := validateURL
	validateURL = func(string) error { return nil }
	t.Cleanup(func() { validateURL = old })
}

func TestValidateExternalURL(t *testing.T) {
	valid := []string{
		"https://getalby.com/.well-known/lnurlp/alice",
		"http://service.example/api",
	}
	for _, u := range valid {
		if err := ValidateExternalURL(u); err != nil {
			t.Errorf("%s: unexpected error %v", u, err)
		}
	}

	invalid := []string{
		"ftp://service.example/api",
		"https://localhost/lnurlp/x",
		"https://127.0.0.1/lnurlp/x",
		"https://10.0.0.5/lnurlp/x",
		"https://172.20.1.1/lnurlp/x",
		"https://192.168.1.1/lnurlp/x",
		"https://169.254.169.254/latest/meta-data",
		"https://printer.local/x",
		"https://db.internal/x",
	}
	for _, u := range invalid {
		if err := ValidateExternalURL(u); err == nil {
			t.Errorf("%s: expected rejection", u)
		}
	}
}

func TestFetchLNURLPayInfo(t *testing.T) {
	allowLoopback(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LNURLPayInfo{
			Callback:    "https://pay.example/callback",
			MinSendable: 1000,
			MaxSendable: 100_000_000,
			Tag:         "payRequest",
			AllowsNostr: true,
		})
	}))
	defer server.Close()

	info, err := FetchLNURLPayInfo(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !info.AllowsNostr || info.MinSendable != 1000 {
		t.Errorf("info = %+v", info)
	}
}

func TestFetchLNURLPayInfoErrors(t *testing.T) {
	allowLoopback(t)

	cases := []struct {
		name string
		body string
	}{
		{"lnurl error", `{"status":"ERROR","reason":"not found"}`},
		{"wrong tag", `{"tag":"withdrawRequest","callback":"https://x/cb","minSendable":1,"maxSendable":2}`},
		{"missing callback", `{"tag":"payRequest","minSendable":1,"maxSendable":2}`},
		{"missing limits", `{"tag":"payRequest","callback":"https://x/cb"}`},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tc.body))
		}))
		_, err := FetchLNURLPayInfo(server.URL)
		server.Close()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRequestInvoice(t *testing.T) {
	allowLoopback(t)

	var gotAmount, gotNostr, gotLnurl string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAmount = r.URL.Query().Get("amount")
		gotNostr = r.URL.Query().Get("nostr")
		gotLnurl = r.URL.Query().Get("lnurl")
		json.NewEncoder(w).Encode(LNURLPayResponse{PR: "lnbc210n1fakeinvoice"})
	}))
	defer server.Close()

	info := &LNURLPayInfo{
		Callback:    server.URL,
		MinSendable: 1000,
		MaxSendable: 100_000_000,
		Tag:         "payRequest",
	}

	zapRequest := `{"kind":9734,"tags":[["amount","21000"]]}`
	pr, err := RequestInvoice(info, 21000, zapRequest, "lnurl1abc")
	if err != nil {
		t.Fatal(err)
	}
	if pr != "lnbc210n1fakeinvoice" {
		t.Errorf("pr = %q", pr)
	}
	if gotAmount != "21000" {
		t.Errorf("amount param = %q", gotAmount)
	}
	if gotNostr != zapRequest {
		t.Errorf("nostr param = %q", gotNostr)
	}
	if gotLnurl != "lnurl1abc" {
		t.Errorf("lnurl param = %q", gotLnurl)
	}
}

func TestRequestInvoiceAmountBounds(t *testing.T) {
	allowLoopback(t)

	info := &LNURLPayInfo{Callback: "https://pay.example/cb", MinSendable: 1000, MaxSendable: 2000}
	if _, err := RequestInvoice(info, 500, "", ""); err == nil {
		t.Error("expected error below minSendable")
	}
	if _, err := RequestInvoice(info, 5000, "", ""); err == nil {
		t.Error("expected error above maxSendable")
	}
}

func TestResolveLud16Format(t *testing.T) {
	for _, bad := range []string{"", "nodomain", "@domain.com", "user@"} {
		if _, err := ResolveLud16(bad); err == nil {
			t.Errorf("%q: expected format error", bad)
		}
	}
}

func TestInvoiceQR(t *testing.T) {
	png, err := InvoiceQR("lnbc210n1fakeinvoice", 256)
	if err != nil {
		t.Fatal(err)
	}
	if len(png) == 0 || !strings.HasPrefix(string(png), "\x89PNG") {
		t.Error("output is not a PNG")
	}

	if _, err := InvoiceQR("", 256); err == nil {
		t.Error("expected error for empty invoice")
	}
}
