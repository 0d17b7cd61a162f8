package relay

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"bot-gemini-middleware/internal/metrics"
	"bot-gemini-middleware/internal/pending"
	"bot-gemini-middleware/internal/sanitize"
	"bot-gemini-middleware/internal/storage"
)

type fakeAI struct {
	answer string
	err    error
}

func (f *fakeAI) Complete(_ context.Context, _, _ string) (string, error) {
	return f.answer, f.err
}

func (f *fakeAI) Ping(context.Context) error { return f.err }

type sentMessage struct {
	ConversationID string
	Text           string
}

type fakeChat struct {
	mu       sync.Mutex
	convID   string
	found    bool
	fetchErr error
	sendErr  error
	sent     []sentMessage
}

func (f *fakeChat) SendReply(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{ConversationID: conversationID, Text: text})
	return nil
}

func (f *fakeChat) FetchConversationID(context.Context, string) (string, bool, error) {
	return f.convID, f.found, f.fetchErr
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestService(t *testing.T, ai *fakeAI, chat *fakeChat) (*Service, *Tasks, *storage.HistoryStore, pending.Repository) {
	t.Helper()
	dir := t.TempDir()
	lockTimeout := 2 * time.Second

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
	tasks := NewTasks(context.Background(), lg)
	svc := NewService(rec, hist, ids, pend, ai, chat, metrics.New(), tasks, lg)
	return svc, tasks, hist, pend
}

func TestProcess_AcceptsAndCompletesInBackground(t *testing.T) {
	ai := &fakeAI{answer: "resposta pronta"}
	chat := &fakeChat{}
	svc, tasks, hist, pend := newTestService(t, ai, chat)

	raw := []byte(`{"solicitante":"maria","pergunta":"o que é IaaS?","id_conversa":"conv-1","user_id":"1234567"}`)
	p := &Payload{Solicitante: "maria", Pergunta: "o que é IaaS?", IDConversa: "conv-1", UserID: "1234567"}

	rcpt, err := svc.Process(raw, p)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if rcpt.Solicitante != "maria" || rcpt.PerguntaRecebida != "o que é IaaS?" {
		t.Fatalf("unexpected receipt: %+v", rcpt)
	}
	if len(rcpt.IDsExtraidos) != 1 || rcpt.IDsExtraidos[0] != "1234567" {
		t.Fatalf("unexpected extracted ids: %v", rcpt.IDsExtraidos)
	}

	tasks.Wait()

	m, ok, err := pend.Get("maria")
	if err != nil || !ok {
		t.Fatalf("marker: ok=%v err=%v", ok, err)
	}
	if m.Resposta != "resposta pronta" || m.ConversationID != "conv-1" {
		t.Fatalf("unexpected marker: %+v", m)
	}

	entries, err := hist.Load("maria")
	if err != nil || len(entries) != 1 {
		t.Fatalf("history: %d entries, err=%v", len(entries), err)
	}
	if entries[0].Resposta != "resposta pronta" {
		t.Fatalf("history answer not filled: %+v", entries[0])
	}
}

func TestProcess_RejectsMissingFields(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeAI{}, &fakeChat{})

	_, err := svc.Process([]byte(`{}`), &Payload{Solicitante: "maria"})
	var verr *sanitize.ValidationError
	if !errors.As(err, &verr) || verr.Field != "pergunta" {
		t.Fatalf("want pergunta validation error, got %v", err)
	}

	// A question that sanitizes to nothing is missing too.
	_, err = svc.Process([]byte(`{}`), &Payload{Solicitante: "maria", Pergunta: "<script></script>"})
	if !errors.As(err, &verr) {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestProcess_SanitizesBeforePersisting(t *testing.T) {
	ai := &fakeAI{answer: "ok"}
	svc, tasks, hist, _ := newTestService(t, ai, &fakeChat{})

	p := &Payload{
		Solicitante: "  joão  ",
		Pergunta:    "<b>dúvida</b>\x00 sobre " + strings.Repeat("x", 2*maxPergunta),
	}
	if _, err := svc.Process([]byte(`{}`), p); err != nil {
		t.Fatalf("process: %v", err)
	}
	tasks.Wait()

	entries, err := hist.Load("joão")
	if err != nil || len(entries) != 1 {
		t.Fatalf("history: %d entries, err=%v", len(entries), err)
	}
	q := entries[0].Pergunta
	if strings.Contains(q, "<b>") || strings.Contains(q, "\x00") {
		t.Fatalf("question not sanitized: %q", q)
	}
	if n := len([]rune(q)); n > maxPergunta {
		t.Fatalf("question not capped: %d runes", n)
	}
}

func TestProcess_AIFailureRecordsErrorPlaceholder(t *testing.T) {
	ai := &fakeAI{err: errors.New("quota exceeded")}
	svc, tasks, hist, pend := newTestService(t, ai, &fakeChat{})

	p := &Payload{Solicitante: "maria", Pergunta: "pergunta"}
	if _, err := svc.Process([]byte(`{}`), p); err != nil {
		t.Fatalf("process: %v", err)
	}
	tasks.Wait()

	if _, ok, _ := pend.Get("maria"); ok {
		t.Fatal("failed completion must not create a pending marker")
	}
	entries, _ := hist.Load("maria")
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Resposta, "Erro: ") {
		t.Fatalf("want error placeholder, got %+v", entries)
	}
}

func TestDeliver_NotReadyWithoutMarker(t *testing.T) {
	svc, _, _, _ := newTestService(t, &fakeAI{}, &fakeChat{})

	d, err := svc.Deliver(context.Background(), "maria")
	if err != nil || d.Status != StatusNotReady {
		t.Fatalf("want not_ready, got %+v err=%v", d, err)
	}
}

func TestDeliver_ConsumesMarkerExactlyOnce(t *testing.T) {
	chat := &fakeChat{}
	svc, _, _, pend := newTestService(t, &fakeAI{}, chat)

	err := pend.Put(pending.Marker{
		Solicitante:    "maria",
		ConversationID: "conv-1",
		Resposta:       "resposta pronta",
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	d, err := svc.Deliver(context.Background(), "maria")
	if err != nil || d.Status != StatusDelivered || d.ConversationID != "conv-1" {
		t.Fatalf("want delivered, got %+v err=%v", d, err)
	}
	if chat.sentCount() != 1 || chat.sent[0].Text != "resposta pronta" {
		t.Fatalf("unexpected sends: %+v", chat.sent)
	}

	// Second poll has nothing left.
	d, err = svc.Deliver(context.Background(), "maria")
	if err != nil || d.Status != StatusNotReady {
		t.Fatalf("want not_ready after consume, got %+v err=%v", d, err)
	}
	if chat.sentCount() != 1 {
		t.Fatalf("answer delivered twice: %d sends", chat.sentCount())
	}
}

func TestDeliver_LooksUpConversationWhenMissing(t *testing.T) {
	chat := &fakeChat{convID: "conv-found", found: true}
	svc, _, _, pend := newTestService(t, &fakeAI{}, chat)

	_ = pend.Put(pending.Marker{Solicitante: "maria", UserID: "u1", Resposta: "oi", CreatedAt: time.Now()})

	d, err := svc.Deliver(context.Background(), "maria")
	if err != nil || d.Status != StatusDelivered || d.ConversationID != "conv-found" {
		t.Fatalf("want delivery via lookup, got %+v err=%v", d, err)
	}
}

func TestDeliver_HoldsMarkerWhenNoConversation(t *testing.T) {
	chat := &fakeChat{found: false}
	svc, _, _, pend := newTestService(t, &fakeAI{}, chat)

	_ = pend.Put(pending.Marker{Solicitante: "maria", UserID: "u1", Resposta: "oi", CreatedAt: time.Now()})

	d, err := svc.Deliver(context.Background(), "maria")
	if err != nil || d.Status != StatusNotReady {
		t.Fatalf("want not_ready, got %+v err=%v", d, err)
	}
	if _, ok, _ := pend.Get("maria"); !ok {
		t.Fatal("marker must survive an unresolved conversation")
	}
}

func TestDeliver_KeepsMarkerOnSendFailure(t *testing.T) {
	chat := &fakeChat{sendErr: errors.New("boom")}
	svc, _, _, pend := newTestService(t, &fakeAI{}, chat)

	_ = pend.Put(pending.Marker{Solicitante: "maria", ConversationID: "conv-1", Resposta: "oi", CreatedAt: time.Now()})

	if _, err := svc.Deliver(context.Background(), "maria"); err == nil {
		t.Fatal("want send error")
	}
	if _, ok, _ := pend.Get("maria"); !ok {
		t.Fatal("marker must survive a failed send for retry")
	}
}

func TestSendDirect(t *testing.T) {
	chat := &fakeChat{}
	svc, tasks, _, _ := newTestService(t, &fakeAI{}, chat)

	p := &Payload{IDConversa: "conv-1", RespostaGemini: "mensagem direta"}
	if err := svc.SendDirect(p); err != nil {
		t.Fatalf("send direct: %v", err)
	}
	tasks.Wait()
	if chat.sentCount() != 1 || chat.sent[0].ConversationID != "conv-1" {
		t.Fatalf("unexpected sends: %+v", chat.sent)
	}

	var verr *sanitize.ValidationError
	if err := svc.SendDirect(&Payload{IDConversa: "conv-1"}); !errors.As(err, &verr) {
		t.Fatalf("want validation error without resposta_gemini, got %v", err)
	}
	if err := svc.SendDirect(&Payload{RespostaGemini: "oi"}); !errors.As(err, &verr) {
		t.Fatalf("want validation error without any id, got %v", err)
	}
}
