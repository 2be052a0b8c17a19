package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/cache"
	"github.com/caiofmo/zapdesk/internal/crm"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/model"
	"github.com/caiofmo/zapdesk/internal/outbound"
	"github.com/caiofmo/zapdesk/internal/push"
	"github.com/caiofmo/zapdesk/internal/store"
	intsync "github.com/caiofmo/zapdesk/internal/sync"
)

// fakeCRM serves the subset of the CRM API the bridge exercises.
type fakeCRM struct {
	baseURL string

	mu        sync.Mutex
	patchFail bool
	patches   int
}

func (f *fakeCRM) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		list := []model.Conversation{
			{ID: "conv-1", ContactName: "Ana", Status: model.StatusAwaiting, UnreadCount: 1},
			{ID: "conv-2", ContactName: "Bruno", Status: model.StatusInProgress},
		}
		if r.URL.Query().Get("status") == "awaiting" {
			list = list[:1]
		}
		_ = json.NewEncoder(w).Encode(list)
	})
	mux.HandleFunc("PATCH /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.patches++
		fail := f.patchFail
		f.mu.Unlock()
		if fail {
			http.Error(w, "backend unavailable", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(model.Conversation{
			ID:     r.PathValue("id"),
			Status: model.StatusClosed,
		})
	})
	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Conversation{
			ID:          r.PathValue("id"),
			ContactName: "Backend",
		})
	})
	mux.HandleFunc("GET /conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "conv-media" {
			_ = json.NewEncoder(w).Encode([]model.Message{
				{ID: "m3", ConversationID: id, Type: model.TypeImage,
					Media: &model.MediaRef{URL: f.baseURL + "/media/m3.jpg", Mimetype: "image/jpeg"}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode([]model.Message{
			{ID: "m1", ConversationID: id, Body: "hello"},
			{ID: "m2", ConversationID: id, Body: "[location:-23.55,-46.63,Office]"},
		})
	})
	mux.HandleFunc("GET /media/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("POST /conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Body string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(model.Message{
			ID:             "srv-1",
			ConversationID: r.PathValue("id"),
			Body:           in.Body,
			FromMe:         true,
		})
	})
	mux.HandleFunc("POST /conversations/{id}/read", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /tags", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]model.Tag{{ID: "t1", Name: "vip"}})
	})
	mux.HandleFunc("GET /agents", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]model.Agent{{ID: "a1", Name: "Carla"}})
	})
	mux.HandleFunc("GET /instance/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(crm.InstanceStatus{Connected: true, State: "open"})
	})
	return mux
}

func testServer(t *testing.T) (*Server, *fakeCRM) {
	t.Helper()

	f := &fakeCRM{}
	backend := httptest.NewServer(f.handler())
	f.baseURL = backend.URL
	t.Cleanup(backend.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	c := cache.New()
	client := crm.New(backend.URL, "test-token", logger)
	st := inbox.NewStore(client, c, b, logger)
	rec := inbox.NewReconciler(client, c, b, logger)
	machine := push.NewMachine(b)
	engine := intsync.NewEngine(st, rec, b, c, client, intsync.Options{
		ListInterval:   time.Hour,
		ThreadInterval: time.Hour,
	}, logger)
	pipeline := outbound.NewPipeline(client, rec, b, time.Second, logger)

	srv := NewServer("127.0.0.1:0", st, rec, engine, pipeline, client, machine, db, c, logger)
	t.Cleanup(engine.Stop)
	return srv, f
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	w := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListConversationsAppliesFilter(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/conversations?status=awaiting", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var list []model.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "conv-1" {
		t.Errorf("filtered list = %+v", list)
	}
}

func TestPatchConversationReturnsServerState(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPatch, "/conversations/conv-1", `{"status":"closed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var got model.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusClosed {
		t.Errorf("status = %q, want closed", got.Status)
	}
}

func TestPatchConversationRejectsUnknownStatus(t *testing.T) {
	srv, f := testServer(t)

	w := doRequest(t, srv, http.MethodPatch, "/conversations/conv-1", `{"status":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	f.mu.Lock()
	patches := f.patches
	f.mu.Unlock()
	if patches != 0 {
		t.Error("invalid status must not reach the backend")
	}
}

func TestPatchConversationFailureRollsBack(t *testing.T) {
	srv, f := testServer(t)

	// Seed the store so the optimistic patch has something to mutate.
	w := doRequest(t, srv, http.MethodGet, "/conversations", "")
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	f.mu.Lock()
	f.patchFail = true
	f.mu.Unlock()

	w = doRequest(t, srv, http.MethodPatch, "/conversations/conv-1", `{"status":"closed"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 passthrough", w.Code)
	}

	// The rollback refresh restored the backend's version of conv-1.
	w = doRequest(t, srv, http.MethodGet, "/conversations", "")
	var list []model.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	for _, conv := range list {
		if conv.ID == "conv-1" && conv.Status != model.StatusAwaiting {
			t.Errorf("conv-1 status = %q, want rollback to awaiting", conv.Status)
		}
	}
}

func TestOpenThenListMessages(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/conversations/conv-1/open", "")
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/conversations/conv-1/messages", "")
	if w.Code != http.StatusOK {
		t.Fatalf("messages status = %d", w.Code)
	}
	var msgs []model.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}

	// Structured bodies are decoded on ingestion and surface in the
	// thread view.
	d := msgs[1].Decoded
	if d == nil || d.Kind != model.PayloadLocation || d.Location == nil || d.Location.Name != "Office" {
		t.Errorf("m2 decoded = %+v, want location payload", d)
	}
}

func TestGetConversationPrefersSyncedCopy(t *testing.T) {
	srv, _ := testServer(t)

	// Before any list refresh, the bridge falls back to the backend.
	w := doRequest(t, srv, http.MethodGet, "/conversations/conv-9", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got model.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "conv-9" || got.ContactName != "Backend" {
		t.Errorf("fallback conversation = %+v", got)
	}

	// After a list refresh, the synced copy wins.
	if w := doRequest(t, srv, http.MethodGet, "/conversations", ""); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	w = doRequest(t, srv, http.MethodGet, "/conversations/conv-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ContactName != "Ana" {
		t.Errorf("synced conversation = %+v, want Ana", got)
	}
}

func TestFetchMediaProxiesBytes(t *testing.T) {
	srv, _ := testServer(t)

	// Loading the thread gives the bridge the media reference.
	if w := doRequest(t, srv, http.MethodPost, "/conversations/conv-media/open", ""); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	w := doRequest(t, srv, http.MethodGet, "/conversations/conv-media/messages/m3/media", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != "jpeg-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestFetchMediaWithoutReferenceIs404(t *testing.T) {
	srv, _ := testServer(t)

	if w := doRequest(t, srv, http.MethodPost, "/conversations/conv-1/open", ""); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	// m1 is a text message with no media reference.
	w := doRequest(t, srv, http.MethodGet, "/conversations/conv-1/messages/m1/media", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSendTextQueued(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/conversations/conv-1/messages", `{"body":"hi there"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
}

func TestSendTextEmptyRejected(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/conversations/conv-1/messages", `{"body":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTagsServedAndCached(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/tags", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var tags []model.Tag
	if err := json.Unmarshal(w.Body.Bytes(), &tags); err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].Name != "vip" {
		t.Errorf("tags = %+v", tags)
	}
	if cached := srv.cache.Tags(); len(cached) != 1 {
		t.Error("tags should be cached after a successful fetch")
	}
}

func TestStatusReportsChannelState(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["channel_state"] != "CLOSED" {
		t.Errorf("channel_state = %v, want CLOSED before connect", got["channel_state"])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/search", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
