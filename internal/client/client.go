// Package client talks to the Manus message API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gokhulnath/Manus/internal/logging"
	"github.com/Gokhulnath/Manus/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// PageSize is the page length used when reading a chat's history.
const PageSize = 100

// maxPages bounds history paging against a server that ignores skip.
const maxPages = 1000

// TransportError wraps any failure to complete a request: network errors,
// non-2xx responses and undecodable bodies.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("client: %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("client: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Opts holds parameters for creating a Client.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration // defaults to 15s
	RateLimit  float64       // requests per second; <= 0 disables limiting
	Burst      int           // defaults to 1
	HTTPClient *http.Client  // overrides Timeout when set
	Log        logrus.FieldLogger
}

// Client is a rate-limited HTTP client for the message API.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("client: invalid base URL %q: %w", base, err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.OrDiscard(opts.Log),
	}, nil
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string { return c.base }

// ListMessages returns the full ordered history of a chat, reading every
// page.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("client: chat id is required")
	}
	var (
		all       []models.Message
		firstSeen = make(map[string]bool)
	)
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("skip", strconv.Itoa(page*PageSize))
		q.Set("limit", strconv.Itoa(PageSize))
		path := "/messages/chat/" + url.PathEscape(chatID) + "?" + q.Encode()

		var batch []models.Message
		if err := c.do(ctx, "list messages", http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			if firstSeen[batch[0].ID] {
				break
			}
			firstSeen[batch[0].ID] = true
		}
		all = append(all, batch...)
		if len(batch) < PageSize {
			break
		}
	}
	return all, nil
}

// sendRequest is the body of POST /messages/.
type sendRequest struct {
	ChatID  string        `json:"chat_id"`
	Content string        `json:"content"`
	Role    models.Role   `json:"role"`
	Task    models.Task   `json:"task"`
	Status  models.Status `json:"status"`
}

// SendMessage posts a pending user chat message and returns the stored echo.
func (c *Client) SendMessage(ctx context.Context, chatID, content string) (*models.Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("client: chat id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("client: content is required")
	}
	req := sendRequest{
		ChatID:  chatID,
		Content: content,
		Role:    models.RoleUser,
		Task:    models.TaskChat,
		Status:  models.StatusPending,
	}
	var msg models.Message
	if err := c.do(ctx, "send message", http.MethodPost, "/messages/", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// FetchDocument returns the raw bytes of a data-room document.
func (c *Client) FetchDocument(ctx context.Context, name string) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("client: document name is required")
	}
	var raw []byte
	if err := c.do(ctx, "fetch document", http.MethodGet, "/data-room/"+url.PathEscape(name), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListChats returns every chat.
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.do(ctx, "list chats", http.MethodGet, "/chats/", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateChat creates a chat. An empty title becomes models.DefaultChatTitle.
func (c *Client) CreateChat(ctx context.Context, title string) (*models.Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = models.DefaultChatTitle
	}
	var chat models.Chat
	body := map[string]string{"title": title}
	if err := c.do(ctx, "create chat", http.MethodPost, "/chats/", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// do performs one request. A *[]byte out receives the raw body; any other
// out is JSON-decoded.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	full := c.base + path

	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, URL: full, Err: err}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: op, URL: full, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return &TransportError{Op: op, URL: full, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, URL: full, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, URL: full, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log.WithFields(logrus.Fields{
		"op":      op,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("client: request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, URL: full, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", summarize(data))}
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, URL: full, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// summarize returns a short single-line excerpt of an error body.
func summarize(body []byte) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if s == "" {
		return "empty response"
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
