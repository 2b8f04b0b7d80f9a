package support

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewFetchClientSetsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client, err := NewFetchClient("")
	if err != nil {
		t.Fatalf("NewFetchClient: %v", err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if got != userAgent {
		t.Fatalf("User-Agent = %q, want %q", got, userAgent)
	}
}

func TestNewFetchClientProxySchemes(t *testing.T) {
	for _, raw := range []string{"socks5://user:pw@127.0.0.1:1080", "http://127.0.0.1:3128"} {
		if _, err := NewFetchClient(raw); err != nil {
			t.Errorf("NewFetchClient(%q) returned %v", raw, err)
		}
	}

	if _, err := NewFetchClient("ftp://127.0.0.1:21"); err == nil {
		t.Fatal("expected an error for an unsupported proxy scheme")
	}
}
