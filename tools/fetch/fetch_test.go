package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomlabs/loom"
)

func invokeFetch(t *testing.T, tool *Tool, url string) (string, error) {
	t.Helper()
	out, err := tool.Invoke(context.Background(), "fetch_url", map[string]any{"url": url})
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1", len(out))
	}
	return out[0].Text(), nil
}

func TestFetchBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from test server"))
	}))
	defer srv.Close()

	content, err := invokeFetch(t, New(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if content != "hello from test server" {
		t.Errorf("content = %q", content)
	}
}

func TestFetch404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, err := invokeFetch(t, New(), srv.URL)
	var te *loom.ErrTool
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want ErrTool", err)
	}
	if !strings.Contains(te.Message, "HTTP 404") {
		t.Errorf("message = %q", te.Message)
	}
}

func TestFetchTruncation(t *testing.T) {
	big := strings.Repeat("A", 10000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	content, err := invokeFetch(t, New(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(content) > 8100 {
		t.Errorf("content not truncated: %d", len(content))
	}
	if !strings.HasSuffix(content, "... (truncated)") {
		t.Error("missing truncation marker")
	}
}

func TestFetchMissingURL(t *testing.T) {
	_, err := New().Invoke(context.Background(), "fetch_url", map[string]any{})
	var te *loom.ErrTool
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want ErrTool", err)
	}
	if te.Message != "url is required" {
		t.Errorf("message = %q", te.Message)
	}
}

func TestFetchDefinitions(t *testing.T) {
	defs := New().Definitions()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	if defs[0].Name != "fetch_url" {
		t.Errorf("name = %q", defs[0].Name)
	}
}
