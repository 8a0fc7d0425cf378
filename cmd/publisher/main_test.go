package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingMiddleware_PassesThroughAndCapturesStatus(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rr.Code)
	}

	if body := rr.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "publish", "migrate"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected %q subcommand, got %v (err=%v)", name, cmd, err)
		}
	}
}

func TestPublishCmd_RejectsInvalidID(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-3"} {
		root := rootCmd()
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs([]string{"publish", "--", arg})

		err := root.Execute()
		if err == nil || !strings.Contains(err.Error(), "invalid content id") {
			t.Fatalf("arg %q: expected invalid content id error, got %v", arg, err)
		}
	}
}
