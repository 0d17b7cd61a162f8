package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bot-gemini-middleware/internal/relay"
	"bot-gemini-middleware/internal/sanitize"
	"bot-gemini-middleware/internal/storage"
)

const maxBodyBytes = 1 << 20 // 1 MB

// handleWebhookPut receives a question, persists it and starts the
// background completion. The 202 acknowledges receipt, not an answer.
func (s *Server) handleWebhookPut(w http.ResponseWriter, r *http.Request) {
	raw, p, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	rcpt, err := s.svc.Process(raw, p)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rcpt)
}

// handleWebhookPost pushes a producer-supplied answer straight to the chat
// platform.
func (s *Server) handleWebhookPost(w http.ResponseWriter, r *http.Request) {
	_, p, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	if err := s.svc.SendDirect(p); err != nil {
		s.writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Envio iniciado",
	})
}

// handleSearchID is the pull endpoint: the chat-platform bot polls it and
// receives the pending answer when one exists.
func (s *Server) handleSearchID(w http.ResponseWriter, r *http.Request) {
	solicitante := r.URL.Query().Get("solicitante")
	d, err := s.svc.Deliver(r.Context(), solicitante)
	if err != nil {
		var verr *sanitize.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"erro": verr.Error()})
			return
		}
		s.lg.Errorf("delivery failed for %s: %v", solicitante, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"erro": "Falha ao entregar a resposta",
		})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealthFull(w http.ResponseWriter, _ *http.Request) {
	histCount, err := s.hist.Count()
	storageOK := err == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"uptime_seconds":       int64(time.Since(s.start).Seconds()),
		"gemini_configured":    s.cfg.GeminiAPIKey != "",
		"freshchat_configured": s.cfg.FreshchatAPIToken != "",
		"storage_ok":           storageOK,
		"historicos":           histCount,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	histCount, _ := s.hist.Count()
	writeJSON(w, http.StatusOK, map[string]any{
		"rate_limit":     s.cfg.MaxRequestsPerMinute,
		"total_requests": s.met.Total(),
		"arquivos": storage.FileSizes(
			s.rec.GeneralPath(), s.rec.RawPath(), s.ids.Path(),
		),
		"historicos": histCount,
	})
}

// handleLogs tails one of the allowlisted log files. Paths never come from
// the caller.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	allowed := map[string]string{
		"app.log":             s.cfg.AppLogPath,
		"log_entradas.txt":    s.rec.GeneralPath(),
		"dados_recebidos.txt": s.rec.RawPath(),
	}
	name := r.URL.Query().Get("file")
	if name == "" {
		name = "log_entradas.txt"
	}
	path, ok := allowed[name]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"erro": "arquivo não permitido",
		})
		return
	}
	n := 50
	if v := r.URL.Query().Get("lines"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	lines, total, err := storage.TailLines(path, n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"erro": "falha ao ler o arquivo de log",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":        name,
		"total_lines": total,
		"lines":       lines,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.met.Snapshot())
}

func (s *Server) handleCleanup(w http.ResponseWriter, _ *http.Request) {
	res, err := s.cleaner.Run(time.Now())
	if err != nil {
		s.lg.Errorf("cleanup failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"erro": "falha na limpeza",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Limpeza concluída",
		"total_removed": res.Total(),
		"locks_removed": res.LocksRemoved,
		"logs_rotated":  res.LogsRotated,
		"backups":       res.BackupsRemoved,
		"historicos":    res.HistoryRemoved,
	})
}

func (s *Server) handleTestGemini(w http.ResponseWriter, r *http.Request) {
	if err := s.ai.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "error",
			"erro":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"model":  s.cfg.GeminiModel,
	})
}

func (s *Server) handleTestFreshchat(w http.ResponseWriter, r *http.Request) {
	status, err := s.chat.ValidateToken(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "error",
			"erro":   err.Error(),
		})
		return
	}
	// Any definitive HTTP answer means the API is reachable; 401/403 just
	// mean the token is wrong.
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"http_status": status,
		"token_valid": status == http.StatusOK,
	})
}

// handleTestPayload echoes the payload back after sanitization, so producers
// can see exactly what the pipeline will store.
func (s *Server) handleTestPayload(w http.ResponseWriter, r *http.Request) {
	_, p, ok := s.decodePayload(w, r)
	if !ok {
		return
	}
	p.Sanitize()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Payload válido",
		"payload": p,
	})
}

func (s *Server) handleTestIntegration(w http.ResponseWriter, r *http.Request) {
	gemini := "ok"
	if err := s.ai.Ping(r.Context()); err != nil {
		gemini = err.Error()
	}
	fresh := "ok"
	if _, err := s.chat.ValidateToken(r.Context()); err != nil {
		fresh = err.Error()
	}
	status := http.StatusOK
	if gemini != "ok" || fresh != "ok" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"gemini":    gemini,
		"freshchat": fresh,
	})
}

func (s *Server) decodePayload(w http.ResponseWriter, r *http.Request) ([]byte, *relay.Payload, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": "corpo da requisição ilegível"})
		return nil, nil, false
	}
	var p relay.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": "JSON inválido"})
		return nil, nil, false
	}
	return raw, &p, true
}

func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	var verr *sanitize.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"erro": verr.Error()})
		return
	}
	s.lg.Errorf("webhook processing failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"erro": "erro interno"})
}
