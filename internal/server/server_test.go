package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"bot-gemini-middleware/internal/config"
	"bot-gemini-middleware/internal/metrics"
	"bot-gemini-middleware/internal/pending"
	"bot-gemini-middleware/internal/relay"
	"bot-gemini-middleware/internal/storage"
)

type fakeAI struct {
	answer string
	err    error
}

func (f *fakeAI) Complete(context.Context, string, string) (string, error) {
	return f.answer, f.err
}

func (f *fakeAI) Ping(context.Context) error { return f.err }

type fakeChat struct {
	convID string
	found  bool
	status int
	sent   []string
}

func (f *fakeChat) SendReply(_ context.Context, _, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChat) FetchConversationID(context.Context, string) (string, bool, error) {
	return f.convID, f.found, nil
}

func (f *fakeChat) ValidateToken(context.Context) (int, error) {
	if f.status == 0 {
		return http.StatusOK, nil
	}
	return f.status, nil
}

type testEnv struct {
	router http.Handler
	tasks  *relay.Tasks
	hist   *storage.HistoryStore
	chat   *fakeChat
}

func newTestEnv(t *testing.T, ai *fakeAI, rateLimit int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	lockTimeout := 2 * time.Second

	cfg := &config.Config{
		WebhookToken:         "segredo",
		MaxRequestsPerMinute: rateLimit,
		GeminiAPIKey:         "key",
		GeminiModel:          "gemini-2.5-flash",
		FreshchatAPIToken:    "tok",
		AppLogPath:           filepath.Join(dir, "app.log"),
	}

	rec, err := storage.NewRecorder(filepath.Join(dir, "log_entradas.txt"), filepath.Join(dir, "dados_recebidos.txt"), lockTimeout)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	hist, err := storage.NewHistoryStore(filepath.Join(dir, "historicos"), lockTimeout)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	ids, err := storage.NewIDLog(filepath.Join(dir, "ids_salvos.txt"), lockTimeout)
	if err != nil {
		t.Fatalf("id log: %v", err)
	}
	pend, err := pending.NewFileRepository(filepath.Join(dir, "pending.json"), lockTimeout)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}

	lg := zap.NewNop().Sugar()
	chat := &fakeChat{}
	met := metrics.New()
	tasks := relay.NewTasks(context.Background(), lg)
	svc := relay.NewService(rec, hist, ids, pend, ai, chat, met, tasks, lg)
	cleaner := &storage.Cleaner{
		DataDir:    dir,
		HistoryDir: hist.Dir(),
		LogFiles:   []string{rec.GeneralPath(), rec.RawPath()},
	}
	srv := New(cfg, svc, rec, hist, ids, met, ai, chat, cleaner, lg)
	return &testEnv{router: srv.Router(), tasks: tasks, hist: hist, chat: chat}
}

func doJSON(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestWebhook_RejectsBadToken(t *testing.T) {
	env := newTestEnv(t, &fakeAI{answer: "ok"}, 100)

	for _, token := range []string{"", "errado"} {
		rr := doJSON(t, env.router, http.MethodPut, "/webhook/freshbot", token,
			`{"solicitante":"maria","pergunta":"oi"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: want 401, got %d", token, rr.Code)
		}
	}

	// A rejected request leaves no trace.
	entries, err := env.hist.Load("maria")
	if err != nil || len(entries) != 0 {
		t.Fatalf("unauthenticated request persisted: %v err=%v", entries, err)
	}
}

func TestWebhook_FullPipeline(t *testing.T) {
	env := newTestEnv(t, &fakeAI{answer: "resposta da ia"}, 100)
	env.chat.convID = "conv-7"
	env.chat.found = true

	rr := doJSON(t, env.router, http.MethodPut, "/webhook/freshbot", "segredo",
		`{"solicitante":"maria","pergunta":"o que é PaaS?","user_id":"7654321"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["solicitante"] != "maria" || body["pergunta_recebida"] != "o que é PaaS?" {
		t.Fatalf("unexpected receipt: %v", body)
	}

	// Answer is not ready until the background task finishes.
	env.tasks.Wait()

	rr = doJSON(t, env.router, http.MethodGet, "/webhook/freshbot/search_id?solicitante=maria", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if d := decodeBody(t, rr); d["status"] != "delivered" {
		t.Fatalf("want delivered, got %v", d)
	}
	if len(env.chat.sent) != 1 || env.chat.sent[0] != "resposta da ia" {
		t.Fatalf("unexpected sends: %v", env.chat.sent)
	}

	// Second poll finds nothing.
	rr = doJSON(t, env.router, http.MethodGet, "/webhook/freshbot/search_id?solicitante=maria", "", "")
	if d := decodeBody(t, rr); d["status"] != "not_ready" {
		t.Fatalf("want not_ready after delivery, got %v", d)
	}
}

func TestWebhook_ValidationAndBadJSON(t *testing.T) {
	env := newTestEnv(t, &fakeAI{}, 100)

	rr := doJSON(t, env.router, http.MethodPut, "/webhook/freshbot", "segredo", `{"solicitante":"maria"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing pergunta: want 400, got %d", rr.Code)
	}
	if b := decodeBody(t, rr); b["erro"] == "" {
		t.Fatalf("want erro message, got %v", b)
	}

	rr = doJSON(t, env.router, http.MethodPut, "/webhook/freshbot", "segredo", `{nope`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json: want 400, got %d", rr.Code)
	}
}

func TestWebhook_RateLimitBeforeAuth(t *testing.T) {
	env := newTestEnv(t, &fakeAI{}, 3)

	// Requests with a bad token still consume quota.
	for i := 0; i < 3; i++ {
		rr := doJSON(t, env.router, http.MethodPut, "/webhook/freshbot", "errado", `{}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: want 401, got %d", i, rr.Code)
		}
	}
	rr := doJSON(t, env.router, http.MethodPut, "/webhook/freshbot", "segredo",
		`{"solicitante":"maria","pergunta":"oi"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429 after quota, got %d", rr.Code)
	}
}

func TestSearchID_RequiresSolicitante(t *testing.T) {
	env := newTestEnv(t, &fakeAI{}, 100)

	rr := doJSON(t, env.router, http.MethodGet, "/webhook/freshbot/search_id", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rr.Code)
	}
}

func TestWebhookPost_DirectSend(t *testing.T) {
	env := newTestEnv(t, &fakeAI{}, 100)

	rr := doJSON(t, env.router, http.MethodPost, "/webhook/freshbot", "",
		`{"id_conversa":"conv-1","resposta_gemini":"mensagem"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", rr.Code, rr.Body.String())
	}
	env.tasks.Wait()
	if len(env.chat.sent) != 1 || env.chat.sent[0] != "mensagem" {
		t.Fatalf("unexpected sends: %v", env.chat.sent)
	}
}

func TestTestPayload_EchoesSanitized(t *testing.T) {
	env := newTestEnv(t, &fakeAI{}, 100)

	rr := doJSON(t, env.router, http.MethodPost, "/test/payload", "",
		`{"solicitante":" maria ","pergunta":"<script>x</script>dúvida"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	payload, _ := body["payload"].(map[string]any)
	if payload["solicitante"] != "maria" || payload["pergunta"] != "dúvida" {
		t.Fatalf("payload not sanitized: %v", payload)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, &fakeAI{}, 100)

	for _, path := range []string{"/health", "/health/full", "/config", "/stats", "/metrics"} {
		rr := doJSON(t, env.router, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", path, rr.Code)
		}
	}

	rr := doJSON(t, env.router, http.MethodPost, "/cleanup", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cleanup: want 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, env.router, http.MethodGet, "/logs?file=../etc/passwd", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("logs traversal: want 400, got %d", rr.Code)
	}
	rr = doJSON(t, env.router, http.MethodGet, "/logs?lines=5", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logs default: want 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, env.router, http.MethodPost, "/test/gemini", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("test gemini: want 200, got %d", rr.Code)
	}
	rr = doJSON(t, env.router, http.MethodGet, "/test/freshchat", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("test freshchat: want 200, got %d", rr.Code)
	}
	rr = doJSON(t, env.router, http.MethodPost, "/test/integration", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("test integration: want 200, got %d", rr.Code)
	}
}
