package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWhatsAppSender_Send(t *testing.T) {
	var got struct {
		path  string
		auth  string
		body  map[string]any
		calls int
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.calls++
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWhatsAppSender("secret-token", "phone-123", srv.URL)
	if err := s.Send(context.Background(), "5215512345678", "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got.calls != 1 || got.path != "/phone-123/messages" {
		t.Fatalf("request = %+v", got)
	}
	if got.auth != "Bearer secret-token" {
		t.Fatalf("auth = %q", got.auth)
	}
	if got.body["to"] != "5215512345678" || got.body["messaging_product"] != "whatsapp" {
		t.Fatalf("body = %+v", got.body)
	}
	text, _ := got.body["text"].(map[string]any)
	if text["body"] != "hola" {
		t.Fatalf("text = %+v", text)
	}
}

func TestWhatsAppSender_SurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Session has expired"}}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender("stale", "phone-123", srv.URL)
	err := s.Send(context.Background(), "5215512345678", "hola")
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if want := "Session has expired"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q missing %q", err, want)
	}
}

func TestInstagramSender_Send(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page-9/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewInstagramSender("token", "page-9", srv.URL)
	if err := s.Send(context.Background(), "ig-user-1", "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
	recipient, _ := body["recipient"].(map[string]any)
	if recipient["id"] != "ig-user-1" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRegistry(t *testing.T) {
	wa := NewWhatsAppSender("t", "p", "http://localhost")
	r := NewRegistry(wa, nil)

	s, err := r.Sender(ChannelWhatsApp)
	if err != nil || s.Name() != ChannelWhatsApp {
		t.Fatalf("sender = %v, %v", s, err)
	}
	if _, err := r.Sender(ChannelInstagram); !errors.Is(err, ErrChannelNotConfigured) {
		t.Fatalf("err = %v, want ErrChannelNotConfigured", err)
	}
}
