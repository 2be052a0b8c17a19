package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caiofmo/zapdesk/internal/model"
)

func TestListConversationsFilter(t *testing.T) {
	var gotQuery string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]model.Conversation{{ID: "c1", Status: model.StatusAwaiting}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	got, err := c.ListConversations(context.Background(), Filter{Status: model.StatusAwaiting, Search: "ana"})
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("got %v, want single c1", got)
	}
	if !strings.Contains(gotQuery, "status=awaiting") || !strings.Contains(gotQuery, "q=ana") {
		t.Errorf("query = %q, want status and q params", gotQuery)
	}
	if gotAuth != "Bearer tk" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(model.Message{ID: "m9", Body: in["body"], FromMe: true, Sent: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	msg, err := c.SendText(context.Background(), "c1", "hello")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if msg.ID != "m9" || msg.Body != "hello" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestListMessagesDecodesBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]model.Message{
			{ID: "m1", Body: "plain text"},
			{ID: "m2", Body: "[location:-23.55,-46.63,Office]"},
			{ID: "m3", Body: "[contact:Ana;+5511999990000]"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	msgs, err := c.ListMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}

	if d := msgs[0].Decoded; d == nil || d.Kind != model.PayloadText {
		t.Errorf("m1 decoded = %+v, want text", msgs[0].Decoded)
	}
	d := msgs[1].Decoded
	if d == nil || d.Kind != model.PayloadLocation || d.Location == nil {
		t.Fatalf("m2 decoded = %+v, want location", d)
	}
	if d.Location.Latitude != -23.55 || d.Location.Name != "Office" {
		t.Errorf("m2 location = %+v", d.Location)
	}
	if d := msgs[2].Decoded; d == nil || d.Kind != model.PayloadContact || d.Contact == nil || d.Contact.Phone != "+5511999990000" {
		t.Errorf("m3 decoded = %+v, want contact", msgs[2].Decoded)
	}
}

func TestSendTextResponseDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Message{ID: "m9", Body: "[media:tok-1]", FromMe: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	msg, err := c.SendText(context.Background(), "c1", "anything")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if msg.Decoded == nil || msg.Decoded.Kind != model.PayloadMedia || msg.Decoded.MediaToken != "tok-1" {
		t.Errorf("decoded = %+v, want media token tok-1", msg.Decoded)
	}
}

func TestSendMediaMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer func() { _ = f.Close() }()
		data, _ := io.ReadAll(f)
		if string(data) != "bytes" {
			t.Errorf("file payload = %q", data)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("part content type = %q", ct)
		}
		if cap := r.FormValue("caption"); cap != "look" {
			t.Errorf("caption = %q", cap)
		}
		_ = json.NewEncoder(w).Encode(model.Message{ID: "m10", Type: model.TypeImage})
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	msg, err := c.SendMedia(context.Background(), "c1", []byte("bytes"), "image/png", "look")
	if err != nil {
		t.Fatalf("SendMedia() error = %v", err)
	}
	if msg.ID != "m10" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	_, err := c.ListMessages(context.Background(), "c1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", apiErr.Status)
	}
}

func TestPushURL(t *testing.T) {
	c := New("https://crm.example.com", "secret", nil)
	got := c.PushURL()
	if !strings.HasPrefix(got, "wss://crm.example.com/ws") {
		t.Errorf("PushURL() = %q, want wss scheme", got)
	}
	if !strings.Contains(got, "token=secret") {
		t.Errorf("PushURL() = %q, want embedded token", got)
	}

	c = New("http://localhost:3000", "tk", nil)
	if got := c.PushURL(); !strings.HasPrefix(got, "ws://localhost:3000/ws") {
		t.Errorf("PushURL() = %q, want ws scheme", got)
	}
}

func TestMarkReadNoBody(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if !strings.HasSuffix(r.URL.Path, "/read") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "tk", nil)
	if err := c.MarkRead(context.Background(), "c1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if !called {
		t.Error("server not called")
	}
}
