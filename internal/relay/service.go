// Package relay orchestrates the webhook pipeline: sanitize, persist,
// complete in the background and hold the answer for the pull endpoint.
package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bot-gemini-middleware/internal/llm"
	"bot-gemini-middleware/internal/metrics"
	"bot-gemini-middleware/internal/pending"
	"bot-gemini-middleware/internal/storage"
)

// ChatClient is the outbound chat-platform surface the relay needs.
type ChatClient interface {
	SendReply(ctx context.Context, conversationID, text string) error
	FetchConversationID(ctx context.Context, userID string) (string, bool, error)
}

// Receipt is the body returned to the webhook producer on acceptance.
type Receipt struct {
	Message          string   `json:"message"`
	Solicitante      string   `json:"solicitante"`
	PerguntaRecebida string   `json:"pergunta_recebida"`
	ContextoRecebido string   `json:"contexto_recebido,omitempty"`
	IDUsuario        string   `json:"id_usuario,omitempty"`
	ConversationID   string   `json:"conversation_id,omitempty"`
	IDsExtraidos     []string `json:"ids_extraidos,omitempty"`
}

type Service struct {
	rec   *storage.Recorder
	hist  *storage.HistoryStore
	ids   *storage.IDLog
	pend  pending.Repository
	ai    llm.Client
	chat  ChatClient
	met   *metrics.Metrics
	tasks *Tasks
	lg    *zap.SugaredLogger
}

func NewService(
	rec *storage.Recorder,
	hist *storage.HistoryStore,
	ids *storage.IDLog,
	pend pending.Repository,
	ai llm.Client,
	chat ChatClient,
	met *metrics.Metrics,
	tasks *Tasks,
	lg *zap.SugaredLogger,
) *Service {
	return &Service{
		rec: rec, hist: hist, ids: ids, pend: pend,
		ai: ai, chat: chat, met: met, tasks: tasks, lg: lg,
	}
}

// Process accepts a webhook payload: sanitizes and validates it, persists the
// receipt and kicks off the background completion. It returns before the AI
// call finishes; the answer is picked up later through the pull endpoint.
func (s *Service) Process(raw []byte, p *Payload) (Receipt, error) {
	p.Sanitize()
	if err := p.Validate(); err != nil {
		return Receipt{}, err
	}
	s.met.IncTotal()

	now := time.Now()
	// Audit logs are best effort: a full disk must not drop the question.
	if err := s.rec.AppendEntry(now, raw); err != nil {
		s.lg.Warnf("general log append failed: %v", err)
	}
	if err := s.rec.AppendRaw(raw); err != nil {
		s.lg.Warnf("raw log append failed: %v", err)
	}
	extracted, err := s.ids.Store(p.Pergunta, p.Contexto, p.UserID, p.IDUsuario, p.IDConversa, p.URL)
	if err != nil {
		s.lg.Warnf("id log failed: %v", err)
	}

	entry := storage.Entry{
		ID:        uuid.NewString(),
		Timestamp: now,
		Contexto:  p.Contexto,
		Pergunta:  p.Pergunta,
	}
	if err := s.hist.Append(p.Solicitante, entry); err != nil {
		s.lg.Warnf("history append failed for %s: %v", p.Solicitante, err)
	}

	cp := *p
	s.tasks.Submit("complete:"+p.Solicitante, func(ctx context.Context) {
		s.complete(ctx, cp, entry.ID)
	})

	return Receipt{
		Message:          "Dados recebidos e processamento iniciado",
		Solicitante:      p.Solicitante,
		PerguntaRecebida: p.Pergunta,
		ContextoRecebido: p.Contexto,
		IDUsuario:        p.userKey(),
		ConversationID:   p.IDConversa,
		IDsExtraidos:     extracted,
	}, nil
}

// complete runs the AI call and stores the result: a pending marker for the
// pull endpoint plus the answer back into the requester's history.
func (s *Service) complete(ctx context.Context, p Payload, entryID string) {
	start := time.Now()
	answer, err := s.ai.Complete(ctx, p.Contexto, p.Pergunta)
	if err != nil {
		s.met.MarkFailure()
		s.lg.Errorf("gemini completion failed for %s: %v", p.Solicitante, err)
		if herr := s.hist.SetAnswer(p.Solicitante, entryID, "Erro: "+err.Error()); herr != nil {
			s.lg.Warnf("history answer write failed: %v", herr)
		}
		return
	}
	s.met.MarkSuccess()
	s.met.ObserveGemini(time.Since(start))

	marker := pending.Marker{
		Solicitante:    p.Solicitante,
		UserID:         p.userKey(),
		ConversationID: p.IDConversa,
		Resposta:       answer,
		CreatedAt:      time.Now(),
	}
	if err := s.pend.Put(marker); err != nil {
		s.lg.Errorf("pending marker write failed for %s: %v", p.Solicitante, err)
	}
	if err := s.hist.SetAnswer(p.Solicitante, entryID, answer); err != nil {
		s.lg.Warnf("history answer write failed: %v", err)
	}
	s.lg.Infof("answer ready for %s (%d chars)", p.Solicitante, len(answer))
}
