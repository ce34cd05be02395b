package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Remote talks to a messenger server over HTTP and its websocket endpoint.
type Remote struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewRemote builds a Remote authenticating with a bearer token.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r *Remote) Sidebar(ctx context.Context) (models.Sidebar, error) {
	var sb models.Sidebar
	err := r.do(ctx, http.MethodGet, "/api/conversations", nil, &sb)
	return sb, err
}

func (r *Remote) History(ctx context.Context, peerID int) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := r.do(ctx, http.MethodGet, "/api/conversations/"+strconv.Itoa(peerID)+"/messages", nil, &resp)
	return resp.Messages, err
}

func (r *Remote) Send(ctx context.Context, peerID int, text, image string) (models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	body := map[string]string{"text": text, "image": image}
	err := r.do(ctx, http.MethodPost, "/api/conversations/"+strconv.Itoa(peerID)+"/messages", body, &resp)
	return resp.Message, err
}

func (r *Remote) React(ctx context.Context, messageID int, emoji string) (models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	err := r.do(ctx, http.MethodPut, "/api/messages/"+strconv.Itoa(messageID)+"/reaction", map[string]string{"emoji": emoji}, &resp)
	return resp.Message, err
}

func (r *Remote) DeleteMessage(ctx context.Context, messageID int) error {
	return r.do(ctx, http.MethodDelete, "/api/messages/"+strconv.Itoa(messageID), nil, nil)
}

func (r *Remote) DeleteConversation(ctx context.Context, peerID int) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := r.do(ctx, http.MethodDelete, "/api/conversations/"+strconv.Itoa(peerID), nil, &resp)
	return resp.Count, err
}

// Connect opens the real-time channel.
func (r *Remote) Connect(ctx context.Context) (*Socket, error) {
	url := "ws" + strings.TrimPrefix(r.baseURL, "http") + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + r.token}}

	conn, resp, err := r.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return &Socket{conn: conn}, nil
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Socket is an open real-time channel. Emit may be called from any goroutine.
type Socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Emit writes one event frame.
func (s *Socket) Emit(ev models.Event) error {
	frame, err := models.EncodeEvent(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Listen feeds every decoded frame to handle until the connection fails or
// ctx is done. Undecodable frames are skipped.
func (s *Socket) Listen(ctx context.Context, handle func(models.Event)) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		ev, err := models.DecodeEvent(raw)
		if err != nil {
			continue
		}
		handle(ev)
	}
}

// Close closes the connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
