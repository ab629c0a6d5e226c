package clickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/kantoor/internal/config"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.clickup.com/api/v2"
	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

var ErrMissingToken = errors.New("clickup api token is empty")

// PageQuery selects one page of a list's tasks.
type PageQuery struct {
	Page          int
	Archived      bool
	IncludeClosed bool
}

// Page is one page of raw tasks. LastPage is nil when the API omits the flag.
type Page struct {
	Tasks    []json.RawMessage `json:"tasks"`
	LastPage *bool             `json:"last_page"`
}

// APIError is a non-2xx response from ClickUp.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clickup api error %d: %s", e.StatusCode, e.Body)
}

// Client reads tasks from the ClickUp REST API. It never writes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter <-chan time.Time
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

func WithoutRateLimit() Option {
	return func(c *Client) {
		c.limiter = nil
	}
}

func NewClient(cfg config.ClickUpConfig, log *zap.Logger, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return nil, ErrMissingToken
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.Named("clickup.client"),
	}
	if cfg.RateLimitPerMin > 0 {
		c.limiter = time.Tick(time.Minute / time.Duration(cfg.RateLimitPerMin))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListTasksPage fetches GET /list/{id}/task for one page.
func (c *Client) ListTasksPage(ctx context.Context, listID string, query PageQuery) (Page, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return Page{}, errors.New("clickup list id is empty")
	}
	if err := c.wait(ctx); err != nil {
		return Page{}, err
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(query.Page))
	params.Set("archived", strconv.FormatBool(query.Archived))
	params.Set("include_closed", strconv.FormatBool(query.IncludeClosed))
	params.Set("subtasks", "true")
	endpoint := c.baseURL + "/list/" + url.PathEscape(listID) + "/task?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, &APIError{StatusCode: resp.StatusCode, Body: trimBody(body)}
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, fmt.Errorf("decode clickup tasks page: %w", err)
	}

	c.log.Debug("fetched clickup page",
		zap.String("list_id", listID),
		zap.Int("page", query.Page),
		zap.Bool("archived", query.Archived),
		zap.Int("tasks", len(page.Tasks)),
	)
	return page, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.limiter:
		return nil
	}
}

func trimBody(body []byte) string {
	text := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(text) <= maxErrorBody {
		return text
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
