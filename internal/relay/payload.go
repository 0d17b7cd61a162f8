package relay

import "bot-gemini-middleware/internal/sanitize"

// Per-field caps applied by Sanitize, in runes.
const (
	maxSolicitante = 100
	maxContexto    = 2000
	maxPergunta    = 1000
	maxUserID      = 50
	maxResposta    = 4000
	maxURL         = 500
)

// Payload is the inbound webhook body. It is immutable once logged.
type Payload struct {
	Solicitante    string `json:"solicitante"`
	Contexto       string `json:"contexto"`
	Pergunta       string `json:"pergunta"`
	UserID         string `json:"user_id"`
	IDUsuario      string `json:"id_usuario"`
	IDConversa     string `json:"id_conversa"`
	RespostaGemini string `json:"resposta_gemini"`
	URL            string `json:"url"`
}

// Sanitize cleans every field in place: control characters and HTML tags
// removed, surrounding space trimmed, length capped.
func (p *Payload) Sanitize() {
	p.Solicitante = sanitize.Clean(p.Solicitante, maxSolicitante)
	p.Contexto = sanitize.Clean(p.Contexto, maxContexto)
	p.Pergunta = sanitize.Clean(p.Pergunta, maxPergunta)
	p.UserID = sanitize.Clean(p.UserID, maxUserID)
	p.IDUsuario = sanitize.Clean(p.IDUsuario, maxUserID)
	p.IDConversa = sanitize.Clean(p.IDConversa, maxUserID)
	p.RespostaGemini = sanitize.Clean(p.RespostaGemini, maxResposta)
	p.URL = sanitize.Clean(p.URL, maxURL)
}

// Validate enforces the required fields of the relay pipeline. It must be
// called after Sanitize.
func (p *Payload) Validate() error {
	if err := sanitize.Required("solicitante", p.Solicitante); err != nil {
		return err
	}
	return sanitize.Required("pergunta", p.Pergunta)
}

// userKey picks the identifier used against the chat platform, preferring
// id_usuario over user_id (same precedence the webhook producer uses).
func (p *Payload) userKey() string {
	if p.IDUsuario != "" {
		return p.IDUsuario
	}
	return p.UserID
}
