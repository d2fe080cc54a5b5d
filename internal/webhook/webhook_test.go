package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/skyops/rulescope/pkg/config"
)

// capture records request bodies for assertions across goroutines.
type capture struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *capture) add(b []byte) {
	c.mu.Lock()
	c.bodies = append(c.bodies, b)
	c.mu.Unlock()
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestSlackTransport(t *testing.T) {
	var got capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.add(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewSlackTransport(srv.URL)
	if tr.Kind() != "slack" {
		t.Errorf("Expected kind slack, got %q", tr.Kind())
	}

	if err := tr.Send("ignored", "aircraft N12345 entered ALPHA"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got.count() != 1 {
		t.Fatalf("Expected 1 request, got %d", got.count())
	}
	var payload map[string]string
	if err := json.Unmarshal(got.bodies[0], &payload); err != nil {
		t.Fatalf("Bad payload: %v", err)
	}
	if payload["text"] != "aircraft N12345 entered ALPHA" {
		t.Errorf("Expected message in text field, got %q", payload["text"])
	}
}

func TestSlackTransportErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewSlackTransport(srv.URL)
	if err := tr.Send("", "msg"); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestPageTransport(t *testing.T) {
	var got capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.add(body)
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	tr := NewPageTransport(config.WebhookConfig{
		PageURL:        srv.URL,
		PageUser:       "ops",
		PagePassword:   "secret",
		PageRecipients: map[string]string{"ranger": "42"},
	})

	t.Run("Known recipient", func(t *testing.T) {
		if err := tr.Send("Ranger", "N12345 low overflight"); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		var req pageRequest
		if err := json.Unmarshal(got.bodies[0], &req); err != nil {
			t.Fatalf("Bad payload: %v", err)
		}
		if req.Username != "ops" || req.Password != "secret" {
			t.Error("Expected credentials in payload")
		}
		if len(req.SendPage.Recipients.People) != 1 || req.SendPage.Recipients.People[0] != "42" {
			t.Errorf("Expected recipient resolved case-insensitively, got %v",
				req.SendPage.Recipients.People)
		}
		if req.SendPage.Message != "N12345 low overflight" {
			t.Errorf("Expected message preserved, got %q", req.SendPage.Message)
		}
	})

	t.Run("Unknown recipient", func(t *testing.T) {
		if err := tr.Send("nobody", "msg"); err == nil {
			t.Error("Expected error for unconfigured recipient")
		}
	})
}

func TestPageTransportFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error: bad credentials"}`))
	}))
	defer srv.Close()

	tr := NewPageTransport(config.WebhookConfig{
		PageURL:        srv.URL,
		PageRecipients: map[string]string{"ranger": "42"},
	})
	if err := tr.Send("ranger", "msg"); err == nil {
		t.Error("Expected error for non-success gateway status")
	}
}

func TestDispatcher(t *testing.T) {
	var got capture
	done := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.add(body)
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	d := NewDispatcher(config.WebhookConfig{SlackURL: srv.URL})

	t.Run("Supports configured kinds only", func(t *testing.T) {
		if !d.Supports("slack") {
			t.Error("Expected slack supported")
		}
		if d.Supports("page") {
			t.Error("Expected page unsupported without a gateway URL")
		}
	})

	t.Run("Delivers asynchronously", func(t *testing.T) {
		if !d.Notify("slack", "", "hello") {
			t.Fatal("Expected message accepted")
		}
		<-done
		if got.count() != 1 {
			t.Errorf("Expected 1 delivery, got %d", got.count())
		}
	})

	t.Run("Unknown kind is rejected", func(t *testing.T) {
		if d.Notify("pigeon", "", "hello") {
			t.Error("Expected unknown kind rejected")
		}
	})

	d.Close()
}

func TestDispatcherCloseDrains(t *testing.T) {
	var got capture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.add(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(config.WebhookConfig{SlackURL: srv.URL})
	for i := 0; i < 5; i++ {
		d.Notify("slack", "", "queued")
	}
	d.Close()

	if got.count() != 5 {
		t.Errorf("Expected all queued messages delivered before Close returned, got %d", got.count())
	}
}
