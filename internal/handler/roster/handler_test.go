package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	rosterModel "github.com/iAnanich/tgbot-member-presence/internal/model/roster"
	rosterService "github.com/iAnanich/tgbot-member-presence/internal/service/roster"
)

func setupRouter(store rosterModel.Store, isAdmin AdminFilter) *chi.Mux {
	svc := rosterService.NewService(store, rosterService.Options{Logger: zerolog.Nop()})
	r := chi.NewRouter()
	New(svc, isAdmin).RegisterRoutes(r)
	return r
}

func post(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return out
}

var caller = map[string]any{"username": "alice_01", "id": 1}

func TestCommandBeforeInitializeIsConflict(t *testing.T) {
	r := setupRouter(rosterModel.NewMemoryStore(), nil)

	resp := post(t, r, "/chats/-100/check-in", map[string]any{"caller": caller})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestInitializeThenCheck(t *testing.T) {
	r := setupRouter(rosterModel.NewMemoryStore(), nil)

	resp := post(t, r, "/chats/-100/initialize", map[string]any{
		"caller":    caller,
		"args":      []string{"@bob_99"},
		"replyText": "hey @carol_x\nand (@dave_12)",
		"title":     "Team",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("initialize: expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	initResult := decode[rosterService.InitializeResult](t, resp)
	if !reflect.DeepEqual(initResult.Added, []string{"alice_01", "bob_99", "carol_x", "dave_12"}) {
		t.Fatalf("unexpected added %v", initResult.Added)
	}

	resp = post(t, r, "/chats/-100/check", map[string]any{
		"caller": caller,
		"args":   []string{"@bob_99", "@erin_55", "plain", "@x"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", resp.Code)
	}
	presence := decode[rosterService.PresenceResult](t, resp)
	if !reflect.DeepEqual(presence.Missing, []string{"erin_55"}) {
		t.Fatalf("unexpected missing %v", presence.Missing)
	}
	if len(presence.Batches) != 1 {
		t.Fatalf("unexpected batches %v", presence.Batches)
	}

	req := httptest.NewRequest(http.MethodGet, "/chats/-100", nil)
	getResp := httptest.NewRecorder()
	r.ServeHTTP(getResp, req)
	if getResp.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", getResp.Code)
	}
	body := decode[map[string]any](t, getResp)
	if body["chatId"] != float64(-100) || body["trackingEnabled"] != true || body["title"] != "Team" {
		t.Fatalf("unexpected roster %v", body)
	}
}

func TestCheckInAndForgetMe(t *testing.T) {
	r := setupRouter(rosterModel.NewMemoryStore(), nil)
	post(t, r, "/chats/7/initialize", map[string]any{"caller": caller})

	bob := map[string]any{"caller": map[string]any{"username": "bob_99"}}

	resp := post(t, r, "/chats/7/check-in", bob)
	if got := decode[map[string]bool](t, resp); !got["added"] {
		t.Fatalf("expected added, got %v", got)
	}
	resp = post(t, r, "/chats/7/forget-me", bob)
	if got := decode[map[string]bool](t, resp); !got["removed"] {
		t.Fatalf("expected removed, got %v", got)
	}
	resp = post(t, r, "/chats/7/forget-me", bob)
	if got := decode[map[string]bool](t, resp); got["removed"] {
		t.Fatalf("expected not removed, got %v", got)
	}

	resp = post(t, r, "/chats/7/check-in", map[string]any{"caller": map[string]any{"id": 5}})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("caller without username: expected 400, got %d", resp.Code)
	}
}

func TestRememberForgetAndList(t *testing.T) {
	r := setupRouter(rosterModel.NewMemoryStore(), nil)
	post(t, r, "/chats/7/initialize", map[string]any{"caller": caller})

	resp := post(t, r, "/chats/7/remember", map[string]any{"caller": caller, "args": []string{"@bob_99", "@carol_x"}})
	if got := decode[map[string][]string](t, resp); !reflect.DeepEqual(got["added"], []string{"bob_99", "carol_x"}) {
		t.Fatalf("unexpected remember result %v", got)
	}

	resp = post(t, r, "/chats/7/forget", map[string]any{"caller": caller, "args": []string{"@bob_99", "@alice_01"}})
	forget := decode[rosterService.ForgetResult](t, resp)
	if !reflect.DeepEqual(forget.Removed, []string{"bob_99"}) || !reflect.DeepEqual(forget.SelfMentioned, []string{"alice_01"}) {
		t.Fatalf("unexpected forget result %+v", forget)
	}

	resp = post(t, r, "/chats/7/list", map[string]any{"caller": caller})
	if got := decode[map[string][]string](t, resp); !reflect.DeepEqual(got["usernames"], []string{"alice_01", "carol_x"}) {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestTrackingAndMembership(t *testing.T) {
	store := rosterModel.NewMemoryStore()
	r := setupRouter(store, nil)
	post(t, r, "/chats/7/initialize", map[string]any{"caller": caller})

	resp := post(t, r, "/chats/7/tracking", map[string]any{"caller": caller})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled: expected 400, got %d", resp.Code)
	}

	resp = post(t, r, "/chats/7/membership", map[string]any{
		"joined": []map[string]any{{"username": "newbie_1", "id": 10}},
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("membership: expected 202, got %d", resp.Code)
	}

	resp = post(t, r, "/chats/7/tracking", map[string]any{"caller": caller, "enabled": false})
	if got := decode[map[string]bool](t, resp); got["enabled"] || !got["changed"] {
		t.Fatalf("unexpected tracking result %v", got)
	}

	post(t, r, "/chats/7/membership", map[string]any{"left": map[string]any{"username": "newbie_1"}})

	saved, found, err := store.Load(context.Background(), "7")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if !saved.Has("newbie_1") {
		t.Fatal("leave must be ignored while tracking is off")
	}

	resp = post(t, r, "/chats/404/membership", map[string]any{"left": map[string]any{"username": "newbie_1"}})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("membership on unknown chat: expected 202, got %d", resp.Code)
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	isAdmin := func(username string) bool { return username == "alice_01" }
	r := setupRouter(rosterModel.NewMemoryStore(), isAdmin)

	stranger := map[string]any{"caller": map[string]any{"username": "mallory_1"}, "args": []string{"@bob_99"}}
	for _, path := range []string{"/chats/7/initialize", "/chats/7/remember", "/chats/7/forget"} {
		if resp := post(t, r, path, stranger); resp.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, resp.Code)
		}
	}

	if resp := post(t, r, "/chats/7/initialize", map[string]any{"caller": caller}); resp.Code != http.StatusOK {
		t.Fatalf("admin initialize: expected 200, got %d", resp.Code)
	}
	if resp := post(t, r, "/chats/7/check-in", stranger); resp.Code != http.StatusOK {
		t.Fatalf("non-admin check-in: expected 200, got %d", resp.Code)
	}
}

func TestInvalidBody(t *testing.T) {
	r := setupRouter(rosterModel.NewMemoryStore(), nil)
	req := httptest.NewRequest(http.MethodPost, "/chats/7/check", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

type brokenStore struct{ *rosterModel.MemoryStore }

func (brokenStore) Load(context.Context, rosterModel.ChatID) (rosterModel.Roster, bool, error) {
	return rosterModel.Roster{}, false, errors.New("connection refused")
}

func TestStoreFailureIsInternalError(t *testing.T) {
	r := setupRouter(brokenStore{rosterModel.NewMemoryStore()}, nil)

	resp := post(t, r, "/chats/7/list", map[string]any{"caller": caller})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if got := decode[map[string]string](t, resp); got["error"] != "roster storage unavailable" {
		t.Fatalf("store detail leaked: %v", got)
	}
}
