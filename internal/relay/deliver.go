package relay

import (
	"context"
	"time"

	"bot-gemini-middleware/internal/sanitize"
)

// Delivery statuses returned by the pull endpoint.
const (
	StatusDelivered = "delivered"
	StatusNotReady  = "not_ready"
)

// Delivery is the outcome of one pull attempt.
type Delivery struct {
	Status         string `json:"status"`
	Solicitante    string `json:"solicitante"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Deliver hands the requester's pending answer to the chat platform. The
// marker is consumed only after the send succeeds, so a failed delivery can
// be retried by polling again. No marker, or no conversation yet, is
// not_ready rather than an error.
func (s *Service) Deliver(ctx context.Context, solicitante string) (Delivery, error) {
	solicitante = sanitize.Clean(solicitante, maxSolicitante)
	if err := sanitize.Required("solicitante", solicitante); err != nil {
		return Delivery{}, err
	}
	out := Delivery{Status: StatusNotReady, Solicitante: solicitante}

	marker, ok, err := s.pend.Get(solicitante)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, nil
	}

	convID := marker.ConversationID
	if convID == "" {
		id, found, err := s.chat.FetchConversationID(ctx, marker.UserID)
		if err != nil {
			return out, err
		}
		if !found {
			// Keep the marker: the conversation may exist on a later poll.
			s.lg.Infof("no conversation yet for %s, holding answer", solicitante)
			return out, nil
		}
		convID = id
	}

	start := time.Now()
	if err := s.chat.SendReply(ctx, convID, marker.Resposta); err != nil {
		return out, err
	}
	s.met.ObserveFreshchat(time.Since(start))

	if err := s.pend.Remove(solicitante); err != nil {
		s.lg.Errorf("pending marker remove failed for %s: %v", solicitante, err)
	}
	out.Status = StatusDelivered
	out.ConversationID = convID
	s.lg.Infof("answer delivered for %s to conversation %s", solicitante, convID)
	return out, nil
}

// SendDirect pushes an already-computed answer straight to the chat platform
// in the background. Used by the POST variant of the webhook, where the
// producer supplies resposta_gemini itself.
func (s *Service) SendDirect(p *Payload) error {
	p.Sanitize()
	if err := sanitize.Required("resposta_gemini", p.RespostaGemini); err != nil {
		return err
	}
	if p.IDConversa == "" && p.userKey() == "" {
		return &sanitize.ValidationError{Field: "id_conversa", Reason: "não informado"}
	}

	cp := *p
	s.tasks.Submit("direct-send:"+cp.userKey(), func(ctx context.Context) {
		convID := cp.IDConversa
		if convID == "" {
			id, found, err := s.chat.FetchConversationID(ctx, cp.userKey())
			if err != nil || !found {
				s.lg.Errorf("direct send: no conversation for %s: %v", cp.userKey(), err)
				return
			}
			convID = id
		}
		start := time.Now()
		if err := s.chat.SendReply(ctx, convID, cp.RespostaGemini); err != nil {
			s.lg.Errorf("direct send failed for conversation %s: %v", convID, err)
			return
		}
		s.met.ObserveFreshchat(time.Since(start))
		s.lg.Infof("direct message sent to conversation %s", convID)
	})
	return nil
}
