// Package freshchat is the REST client for the chat platform: it delivers
// finished answers and resolves conversation identifiers.
package freshchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bot-gemini-middleware/internal/upstream"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
		timeout: timeout,
	}
}

type messagePart struct {
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
}

type sendMessageRequest struct {
	MessageParts []messagePart `json:"message_parts"`
	ActorType    string        `json:"actor_type"`
}

type conversationsResponse struct {
	Conversations []struct {
		ID string `json:"id"`
	} `json:"conversations"`
}

// SendReply posts the answer into the Freshchat conversation. Bounded
// timeout, one retry on transient failures.
func (c *Client) SendReply(ctx context.Context, conversationID, text string) error {
	if c.token == "" {
		return fmt.Errorf("token do Freshchat não configurado")
	}
	if conversationID == "" {
		return fmt.Errorf("conversation_id é obrigatório")
	}
	if text == "" {
		return fmt.Errorf("mensagem não pode estar vazia")
	}

	body, err := json.Marshal(sendMessageRequest{
		MessageParts: []messagePart{{Text: text, ContentType: "text"}},
		ActorType:    "Agent",
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	url := fmt.Sprintf("%s/conversations/%s/messages", c.baseURL, conversationID)

	return upstream.Do(ctx, func(ctx context.Context) error {
		status, _, err := c.do(ctx, http.MethodPost, url, body)
		if err != nil {
			return err
		}
		if status != http.StatusOK && status != http.StatusCreated {
			return &upstream.Error{Service: "freshchat", Status: status, Err: fmt.Errorf("send message failed")}
		}
		return nil
	})
}

// FetchConversationID returns the newest conversation id of the user. A
// user without conversations is not an error: the answer stays pending
// until a later poll.
func (c *Client) FetchConversationID(ctx context.Context, userID string) (string, bool, error) {
	if userID == "" {
		return "", false, nil
	}
	url := fmt.Sprintf("%s/users/%s/conversations", c.baseURL, userID)

	var id string
	var found bool
	err := upstream.Do(ctx, func(ctx context.Context) error {
		status, data, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return nil
		}
		if status != http.StatusOK {
			return &upstream.Error{Service: "freshchat", Status: status, Err: fmt.Errorf("list conversations failed")}
		}
		var resp conversationsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return &upstream.Error{Service: "freshchat", Err: fmt.Errorf("decode conversations: %w", err)}
		}
		if len(resp.Conversations) > 0 {
			id, found = resp.Conversations[0].ID, true
		}
		return nil
	})
	return id, found, err
}

// ValidateToken checks connectivity and credentials against the accounts
// configuration endpoint and returns the HTTP status.
func (c *Client) ValidateToken(ctx context.Context) (int, error) {
	url := c.baseURL + "/accounts/configuration"
	var status int
	err := upstream.Do(ctx, func(ctx context.Context) error {
		st, _, err := c.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		status = st
		if st >= 500 {
			return &upstream.Error{Service: "freshchat", Status: st, Err: fmt.Errorf("configuration check failed")}
		}
		return nil
	})
	return status, err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return 0, nil, &upstream.Error{Service: "freshchat", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &upstream.Error{Service: "freshchat", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, &upstream.Error{Service: "freshchat", Err: err}
	}
	return resp.StatusCode, data, nil
}
