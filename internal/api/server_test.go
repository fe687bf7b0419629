package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"geminilegion/backend/internal/ai"
	"geminilegion/backend/internal/config"
	"geminilegion/backend/internal/engine"
	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
	"geminilegion/backend/internal/opinion"
	"geminilegion/backend/internal/store/memory"
	"geminilegion/backend/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	cfg := config.Config{
		JWTSecret:           "test-secret",
		CommanderName:       "Commander",
		DefaultModel:        "gemini-2.5-flash-preview-04-17",
		HistoryContextLimit: 15,
		ProviderTimeout:     5 * time.Second,
		RequestBodyMaxBytes: 1 << 20,
		MessageMaxLen:       8000,
	}
	backing := memory.New()
	bus := events.NewBus()
	logger := observability.NewLogger("test")
	metrics := observability.NewMetrics()

	eng := engine.New(cfg, backing, opinion.New(backing), ai.NewMockClient(), bus, logger, metrics)
	eng.SetRoll(func() int { return 1 })
	if err := eng.EnsureDefaultChannels(context.Background()); err != nil {
		t.Fatalf("ensure default channels: %v", err)
	}

	hub := ws.NewHub(bus, logger, metrics, nil, time.Second, time.Second)
	server := New(cfg, backing, eng, bus, hub, logger, metrics)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	resp := doJSON(t, ts, http.MethodPost, "/auth/signup", "", map[string]any{
		"email":    "commander@legion.dev",
		"password": "override-order-66",
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("signup status = %d: %v", resp.status, resp.body)
	}
	token, _ := resp.body["token"].(string)
	if token == "" {
		t.Fatalf("signup returned no token: %v", resp.body)
	}
	return ts, token
}

type jsonResponse struct {
	status int
	body   map[string]any
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, payload any) jsonResponse {
	t.Helper()

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	body := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	return jsonResponse{status: resp.StatusCode, body: body}
}

func TestAuthRequiredForLegionRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/minions", "", nil)
	if resp.status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.status)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "commander@legion.dev",
		"password": "override-order-66",
	})
	if resp.status != http.StatusOK || resp.body["token"] == "" {
		t.Fatalf("login failed: %d %v", resp.status, resp.body)
	}

	resp = doJSON(t, ts, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "commander@legion.dev",
		"password": "wrong",
	})
	if resp.status != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", resp.status)
	}
}

func TestDefaultChannelsExist(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, "/channels", token, nil)
	if resp.status != http.StatusOK {
		t.Fatalf("status = %d", resp.status)
	}
	channels, _ := resp.body["channels"].([]any)
	if len(channels) != 3 {
		t.Fatalf("expected 3 default channels, got %v", resp.body)
	}
}

func TestMinionLifecycle(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/minions", token, map[string]any{
		"name":        "Alpha",
		"persona":     "Terse analyst.",
		"temperature": 0.9,
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("spawn status = %d: %v", resp.status, resp.body)
	}
	id, _ := resp.body["id"].(string)
	if id == "" {
		t.Fatalf("spawn returned no id: %v", resp.body)
	}
	scores, _ := resp.body["opinion_scores"].(map[string]any)
	if scores["Commander"] != float64(50) {
		t.Fatalf("commander must start at 50: %v", resp.body)
	}

	resp = doJSON(t, ts, http.MethodPost, "/minions", token, map[string]any{"name": "alpha"})
	if resp.status != http.StatusConflict {
		t.Fatalf("duplicate name status = %d, want 409", resp.status)
	}

	resp = doJSON(t, ts, http.MethodPut, "/minions/"+id, token, map[string]any{"current_task": "Scouting"})
	if resp.status != http.StatusOK || resp.body["current_task"] != "Scouting" {
		t.Fatalf("update failed: %d %v", resp.status, resp.body)
	}

	resp = doJSON(t, ts, http.MethodGet, "/minions/models", token, nil)
	if resp.status != http.StatusOK {
		t.Fatalf("models status = %d", resp.status)
	}
	if models, _ := resp.body["models"].([]any); len(models) == 0 {
		t.Fatalf("model options missing: %v", resp.body)
	}

	resp = doJSON(t, ts, http.MethodDelete, "/minions/"+id, token, nil)
	if resp.status != http.StatusOK {
		t.Fatalf("decommission status = %d", resp.status)
	}
	resp = doJSON(t, ts, http.MethodGet, "/minions/"+id, token, nil)
	if resp.status != http.StatusNotFound {
		t.Fatalf("deleted minion status = %d, want 404", resp.status)
	}
}

func TestPostMessageTriggersMinionTurn(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/minions", token, map[string]any{
		"name":    "Alpha",
		"persona": "Terse analyst.",
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("spawn status = %d: %v", resp.status, resp.body)
	}

	resp = doJSON(t, ts, http.MethodPost, "/channels/general/messages", token, map[string]any{
		"content": "Alpha, status report.",
	})
	if resp.status != http.StatusAccepted {
		t.Fatalf("post status = %d, want 202: %v", resp.status, resp.body)
	}

	// Turns run in the background; wait for the finalized reply.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp = doJSON(t, ts, http.MethodGet, "/channels/general/messages", token, nil)
		if resp.status != http.StatusOK {
			t.Fatalf("list status = %d", resp.status)
		}
		messages, _ := resp.body["messages"].([]any)
		for _, raw := range messages {
			msg, _ := raw.(map[string]any)
			if msg["sender_kind"] == "Minion" && msg["sender_name"] == "Alpha" && msg["content"] != "" {
				if diaryText, _ := msg["diary"].(string); diaryText == "" {
					t.Fatalf("finalized reply must carry a diary: %v", msg)
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("minion reply never finalized: %v", resp.body)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPostMessageToUnknownChannel(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/channels/nope/messages", token, map[string]any{"content": "hello"})
	if resp.status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.status)
	}
}

func TestMessageEditAndDelete(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/channels/general/messages", token, map[string]any{"content": "typo mesage"})
	if resp.status != http.StatusAccepted {
		t.Fatalf("post status = %d", resp.status)
	}
	msgID, _ := resp.body["id"].(string)
	if msgID == "" {
		t.Fatalf("no message id: %v", resp.body)
	}

	resp = doJSON(t, ts, http.MethodPut, fmt.Sprintf("/channels/general/messages/%s", msgID), token, map[string]any{"content": "typo message"})
	if resp.status != http.StatusOK || resp.body["content"] != "typo message" {
		t.Fatalf("edit failed: %d %v", resp.status, resp.body)
	}

	resp = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/channels/general/messages/%s", msgID), token, nil)
	if resp.status != http.StatusOK {
		t.Fatalf("delete status = %d", resp.status)
	}
	resp = doJSON(t, ts, http.MethodDelete, fmt.Sprintf("/channels/general/messages/%s", msgID), token, nil)
	if resp.status != http.StatusNotFound {
		t.Fatalf("double delete status = %d, want 404", resp.status)
	}
}

func TestChannelCreationAddsCommanderAndMinions(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/minions", token, map[string]any{"name": "Alpha"})
	if resp.status != http.StatusCreated {
		t.Fatalf("spawn status = %d", resp.status)
	}

	resp = doJSON(t, ts, http.MethodPost, "/channels", token, map[string]any{
		"name": "#warroom",
		"kind": "group",
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("create channel status = %d: %v", resp.status, resp.body)
	}
	members, _ := resp.body["members"].([]any)
	var haveCommander, haveAlpha bool
	for _, member := range members {
		if member == "Commander" {
			haveCommander = true
		}
		if member == "Alpha" {
			haveAlpha = true
		}
	}
	if !haveCommander || !haveAlpha {
		t.Fatalf("group channel must include commander and minions: %v", members)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v %v", err, resp)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics failed: %v %v", err, resp)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "http_requests_total") {
		t.Fatalf("metrics output missing counters:\n%s", raw)
	}
}
