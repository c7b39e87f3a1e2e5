// Package ai talks to an OpenAI-compatible chat completion provider
// (OpenRouter by default) and prepares ledger history for it.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL      = "https://openrouter.ai/api/v1"
	DefaultModel        = "anthropic/claude-sonnet-4"
	DefaultSystemPrompt = "You are a helpful AI assistant."
	DefaultTitle        = "ChronoLedger"

	modelsCacheTTL = 5 * time.Minute
)

var (
	ErrMissingKey = errors.New("API key not configured")
	ErrInvalidKey = errors.New("API key looks invalid")
)

// Config holds provider settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Referer      string
	Title        string
}

// UpstreamError is returned when the provider answers with a non-2xx status.
type UpstreamError struct {
	Status  int
	Message string
	Hint    string
}

func (e *UpstreamError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return fmt.Sprintf("provider request failed with status %d", e.Status)
	}
	if e.Hint != "" {
		return fmt.Sprintf("provider (%d): %s. %s", e.Status, msg, e.Hint)
	}
	return fmt.Sprintf("provider (%d): %s", e.Status, msg)
}

// Model is one entry of the provider's model catalogue.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
}

// Client streams chat completions.
type Client struct {
	cfg  Config
	http *http.Client

	mu            sync.Mutex
	models        []Model
	modelsFetched time.Time
}

// NewClient fills in defaults for empty config fields. A nil httpClient uses
// a client without an overall timeout, since completions stream for a long time.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = DefaultTitle
	}
	cfg.APIKey = NormalizeKey(cfg.APIKey)
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Model returns the configured model id.
func (c *Client) Model() string {
	return c.cfg.Model
}

// AgentName is the pseudonym for responses produced by the configured model.
func (c *Client) AgentName() string {
	return AgentName(c.cfg.Model)
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// conversationTemplate puts the system prompt ahead of the ledger history.
// History messages pass through unformatted.
var conversationTemplate = prompt.FromMessages(
	schema.FString,
	schema.SystemMessage("{system}"),
	schema.MessagesPlaceholder("history", true),
)

// OpenStream posts the conversation with the system prompt prepended and
// returns the raw event-stream body. The caller must close it. Cancelling ctx
// aborts the request and any pending body read.
func (c *Client) OpenStream(ctx context.Context, history []*schema.Message) (io.ReadCloser, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}

	conversation, err := conversationTemplate.Format(ctx, map[string]any{
		"system":  c.cfg.SystemPrompt,
		"history": history,
	})
	if err != nil {
		return nil, errors.Wrap(err, "format conversation")
	}
	messages := make([]wireMessage, 0, len(conversation))
	for _, m := range conversation {
		if m == nil {
			continue
		}
		messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, errors.Wrap(err, "encode completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build completion request")
	}
	c.setHeaders(req, "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	log.Info().
		Str("component", "ai").
		Str("model", c.cfg.Model).
		Int("messages", len(messages)).
		Msg("sending chat request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "completion request")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		upstreamErr := c.upstreamError(resp)
		log.Error().
			Str("component", "ai").
			Int("status", resp.StatusCode).
			Str("model", c.cfg.Model).
			Msg(upstreamErr.Message)
		return nil, upstreamErr
	}
	return resp.Body, nil
}

// Models lists the provider catalogue, cached for a few minutes. A failed
// refresh falls back to the previous list when there is one.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.models != nil && time.Since(c.modelsFetched) < modelsCacheTTL {
		return c.models, nil
	}

	models, err := c.fetchModels(ctx)
	if err != nil {
		if c.models != nil {
			log.Warn().Err(err).Str("component", "ai").Msg("using cached model list")
			return c.models, nil
		}
		return nil, err
	}
	c.models = models
	c.modelsFetched = time.Now()
	return models, nil
}

// ModelDisplayName resolves a readable name for modelID, preferring the
// provider catalogue.
func (c *Client) ModelDisplayName(ctx context.Context, modelID string) string {
	if models, err := c.Models(ctx); err == nil {
		for _, m := range models {
			if m.ID == modelID && m.Name != "" {
				return m.Name
			}
		}
	}
	return DisplayName(modelID)
}

func (c *Client) fetchModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build models request")
	}
	c.setHeaders(req, "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "models request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.upstreamError(resp)
	}

	var payload struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode models")
	}
	if payload.Data == nil {
		payload.Data = []Model{}
	}
	return payload.Data, nil
}

func (c *Client) checkKey() error {
	if c.cfg.APIKey == "" {
		return ErrMissingKey
	}
	if !ValidKey(c.cfg.APIKey) {
		return errors.Wrap(ErrInvalidKey, KeyHint)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, accept string) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Title", c.cfg.Title)
	req.Header.Set("User-Agent", c.cfg.Title+" (ledger)")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
		req.Header.Set("Referer", c.cfg.Referer)
	}
}

var (
	userNotFound = regexp.MustCompile(`(?i)user not found`)
	refererIssue = regexp.MustCompile(`(?i)referer`)
)

func (c *Client) upstreamError(resp *http.Response) *UpstreamError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
	msg := serverMessage(raw)
	e := &UpstreamError{Status: resp.StatusCode, Message: msg}

	if resp.StatusCode == http.StatusUnauthorized {
		switch {
		case userNotFound.MatchString(msg):
			referer := "HTTP referer is not set"
			if c.cfg.Referer != "" {
				referer = "HTTP referer: " + c.cfg.Referer
			}
			e.Hint = "Confirm that the API key is active and copied in full. " + referer + ". " + KeyHint
		case refererIssue.MatchString(msg):
			e.Hint = "Set OPENROUTER_REFERER to a URL you control."
		}
	}
	return e
}

// serverMessage extracts error.message from a JSON error body, falling back
// to the raw text.
func serverMessage(raw []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
