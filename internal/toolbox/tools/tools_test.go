package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rulehost/rulehost/internal/toolbox"
)

func TestEchoReturnsArgumentsUnchanged(t *testing.T) {
	e := NewEcho()
	args := json.RawMessage(`{"a":1}`)
	got, err := e.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(args) {
		t.Errorf("expected %s, got %s", args, got)
	}
}

func TestFetchExecute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer server.Close()

	f := NewFetch("")
	args, _ := json.Marshal(map[string]string{"url": server.URL})
	result, err := f.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Text      string `json:"text"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatal(err)
	}
	if out.Text != "hello world" {
		t.Errorf("expected 'hello world', got %q", out.Text)
	}
	if out.Truncated {
		t.Error("did not expect truncation")
	}
}

func TestFetchSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetch("tok-secret")
	args, _ := json.Marshal(map[string]string{"url": server.URL})
	if _, err := f.Execute(context.Background(), args); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok-secret" {
		t.Errorf("expected Authorization header Bearer tok-secret, got %q", gotAuth)
	}
}

func TestFetchMissingURL(t *testing.T) {
	f := NewFetch("")
	_, err := f.Execute(context.Background(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestFetchTruncation(t *testing.T) {
	long := strings.Repeat("x", maxFetchBytes+1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(long))
	}))
	defer server.Close()

	f := NewFetch("")
	args, _ := json.Marshal(map[string]string{"url": server.URL})
	result, err := f.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Text      string `json:"text"`
		Truncated bool   `json:"truncated"`
	}
	json.Unmarshal(result, &out)
	if !out.Truncated {
		t.Error("expected truncation flag")
	}
	if len(out.Text) != maxFetchBytes {
		t.Errorf("expected truncated length %d, got %d", maxFetchBytes, len(out.Text))
	}
}

func TestShellExecute(t *testing.T) {
	s := NewShell()
	args, _ := json.Marshal(map[string]string{"command": "echo hello"})
	result, err := s.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Output   string `json:"output"`
		ExitCode int    `json:"exit_code"`
	}
	json.Unmarshal(result, &out)
	if strings.TrimSpace(out.Output) != "hello" {
		t.Errorf("expected 'hello', got %q", out.Output)
	}
	if out.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", out.ExitCode)
	}
}

func TestShellNonZeroExit(t *testing.T) {
	s := NewShell()
	args, _ := json.Marshal(map[string]string{"command": "exit 3"})
	result, err := s.Execute(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		ExitCode int `json:"exit_code"`
	}
	json.Unmarshal(result, &out)
	if out.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", out.ExitCode)
	}
}

func TestShellMissingCommand(t *testing.T) {
	s := NewShell()
	_, err := s.Execute(context.Background(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestSessionNoteAppendAndList(t *testing.T) {
	sn := NewSessionNote()
	ctx := toolbox.WithSessionID(context.Background(), "s1")

	args, _ := json.Marshal(map[string]string{"action": "append", "text": "hello"})
	if _, err := sn.Execute(ctx, args); err != nil {
		t.Fatal(err)
	}

	result, err := sn.Execute(ctx, json.RawMessage(`{"action":"list"}`))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Notes []string `json:"notes"`
	}
	json.Unmarshal(result, &out)
	if len(out.Notes) != 1 || out.Notes[0] != "hello" {
		t.Errorf("expected [hello], got %v", out.Notes)
	}
}

func TestSessionNoteScopedPerSession(t *testing.T) {
	sn := NewSessionNote()
	ctx1 := toolbox.WithSessionID(context.Background(), "s1")
	ctx2 := toolbox.WithSessionID(context.Background(), "s2")

	sn.Execute(ctx1, json.RawMessage(`{"action":"append","text":"for s1"}`))

	result, _ := sn.Execute(ctx2, json.RawMessage(`{"action":"list"}`))
	var out struct {
		Notes []string `json:"notes"`
	}
	json.Unmarshal(result, &out)
	if len(out.Notes) != 0 {
		t.Errorf("expected no notes leaking across sessions, got %v", out.Notes)
	}
}

func TestSessionNoteClear(t *testing.T) {
	sn := NewSessionNote()
	ctx := toolbox.WithSessionID(context.Background(), "s1")

	sn.Execute(ctx, json.RawMessage(`{"action":"append","text":"x"}`))
	sn.Execute(ctx, json.RawMessage(`{"action":"clear"}`))

	result, _ := sn.Execute(ctx, json.RawMessage(`{"action":"list"}`))
	var out struct {
		Notes []string `json:"notes"`
	}
	json.Unmarshal(result, &out)
	if len(out.Notes) != 0 {
		t.Errorf("expected empty after clear, got %v", out.Notes)
	}
}

func TestSessionNoteRequiresSessionInContext(t *testing.T) {
	sn := NewSessionNote()
	_, err := sn.Execute(context.Background(), json.RawMessage(`{"action":"list"}`))
	if err == nil {
		t.Fatal("expected error when no session id in context")
	}
}
