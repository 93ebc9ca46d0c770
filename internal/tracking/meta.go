package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Meta Graph API defaults
const (
	DefaultGraphURL   = "https://graph.facebook.com"
	DefaultAPIVersion = "v21.0"
)

// MetaConfig holds Conversions API settings
type MetaConfig struct {
	PixelID       string
	AccessToken   string
	APIVersion    string
	GraphURL      string
	TestEventCode string
	Timeout       time.Duration
}

// MetaEvent is one server event in a Conversions API batch
type MetaEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	ActionSource   string         `json:"action_source"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	UserData       map[string]any `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type metaRequest struct {
	Data          []MetaEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
}

// MetaResponse is the Graph API reply to an events batch
type MetaResponse struct {
	EventsReceived int      `json:"events_received"`
	Messages       []string `json:"messages"`
	FBTraceID      string   `json:"fbtrace_id"`
}

type metaErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// MetaClient posts events to the Meta Conversions API
type MetaClient struct {
	cfg        MetaConfig
	httpClient *http.Client
}

// NewMetaClient creates a Conversions API client
func NewMetaClient(cfg MetaConfig) *MetaClient {
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MetaClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
	}
}

// Send posts a batch of events
func (c *MetaClient) Send(ctx context.Context, events ...MetaEvent) (*MetaResponse, error) {
	path := fmt.Sprintf("/%s/%s/events", c.cfg.APIVersion, url.PathEscape(c.cfg.PixelID))
	body := metaRequest{Data: events, TestEventCode: c.cfg.TestEventCode}

	var resp MetaResponse
	if err := c.request(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// request performs an HTTP request to the Graph API
func (c *MetaClient) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	q := url.Values{"access_token": {c.cfg.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.GraphURL+path+"?"+q.Encode(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp metaErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Message == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("meta API error (code %d): %s", errResp.Error.Code, errResp.Error.Message)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CloseIdleConnections releases pooled connections
func (c *MetaClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// BuildMetaEvent maps a tracked event onto a Conversions API event.
// PII properties are hashed into user_data; the rest becomes custom_data.
func BuildMetaEvent(name, eventID string, props Properties, now time.Time) MetaEvent {
	ev := MetaEvent{
		EventName:    name,
		EventTime:    now.Unix(),
		EventID:      eventID,
		ActionSource: "website",
		UserData:     make(map[string]any),
		CustomData:   make(map[string]any),
	}

	for k, v := range props {
		if key, ok := piiFields[k]; ok {
			if s, ok := v.(string); ok {
				if h := HashPII(k, s); h != "" {
					ev.UserData[key] = []string{h}
				}
			}
			continue
		}
		if key, ok := passthroughFields[k]; ok {
			ev.UserData[key] = v
			continue
		}
		switch k {
		case "event_id", "distinct_id":
		case "action_source":
			if s, ok := v.(string); ok && s != "" {
				ev.ActionSource = s
			}
		case "url", "event_source_url":
			if s, ok := v.(string); ok {
				ev.EventSourceURL = s
			}
		default:
			ev.CustomData[k] = v
		}
	}

	if len(ev.CustomData) == 0 {
		ev.CustomData = nil
	}
	return ev
}
