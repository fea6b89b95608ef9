package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/geoharvest/internal/errors"
)

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(ClientConfig{})

	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", client.httpClient.Timeout)
	}
	if client.limiter != nil {
		t.Error("expected no limiter when RequestsPerSecond is zero")
	}
	if client.userAgent != "geoharvest/1.0" {
		t.Errorf("userAgent = %q", client.userAgent)
	}
}

func TestClientSendsHeadersAndBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q", got)
		}
		if got := r.Header.Get("X-Extra"); got != "1" {
			t.Errorf("X-Extra = %q", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "geoserver" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	base := NewClient(ClientConfig{Headers: map[string]string{"X-Api-Key": "secret"}, RequestsPerSecond: 100})
	client := base.WithHeaders(map[string]string{"X-Extra": "1"}).WithBasicAuth("admin", "geoserver")

	var out struct{ OK bool }
	if err := client.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !out.OK {
		t.Fatal("expected decoded body")
	}
	if _, ok := base.Headers()["X-Extra"]; ok {
		t.Fatal("WithHeaders must not mutate the parent client")
	}
}

func TestDecodeResponseErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewClient(ClientConfig{}).GetJSON(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestGetBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer server.Close()

	body, contentType, err := NewClient(ClientConfig{}).GetBytes(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if contentType != "image/png" || len(body) != 4 {
		t.Fatalf("unexpected body %v (%s)", body, contentType)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated || string(body) != "abcd" {
		t.Fatalf("got %q truncated=%v", body, truncated)
	}

	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 4); err == nil {
		t.Fatal("expected strict read to fail")
	}
}

func TestUnreachableHostIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(ClientConfig{Timeout: time.Second}).Get(context.Background(), url)
	if !errors.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
