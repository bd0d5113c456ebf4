package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

const (
	defaultAssistantsBaseURL = "https://api.openai.com/v1"
	assistantsBetaHeader     = "assistants=v2"
	maxResponseBytes         = 1 << 20
	messagePageSize          = 100
)

type AssistantsOption func(*AssistantsClient)

// AssistantsClient talks to an Assistants v2 compatible REST API.
type AssistantsClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewAssistantsClient(apiKey string, opts ...AssistantsOption) *AssistantsClient {
	c := &AssistantsClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultAssistantsBaseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func WithAssistantsBaseURL(baseURL string) AssistantsOption {
	return func(c *AssistantsClient) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

func WithAssistantsHTTPClient(client *http.Client) AssistantsOption {
	return func(c *AssistantsClient) {
		if client != nil {
			c.client = client
		}
	}
}

var (
	_ ports.AssistantService     = (*AssistantsClient)(nil)
	_ ports.AssistantProvisioner = (*AssistantsClient)(nil)
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("assistants api rate limited: %s", e.Message)
	}
	return fmt.Sprintf("assistants api status %d: %s", e.StatusCode, e.Message)
}

// Wire types.

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type apiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiAssistantRequest struct {
	Name         string    `json:"name,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	Model        string    `json:"model"`
	Tools        []apiTool `json:"tools,omitempty"`
}

type apiObject struct {
	ID string `json:"id"`
}

type apiMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiMessage struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Role      string `json:"role"`
	RunID     string `json:"run_id"`
	CreatedAt int64  `json:"created_at"`
	Content   []struct {
		Type string `json:"type"`
		Text *struct {
			Value string `json:"value"`
		} `json:"text,omitempty"`
	} `json:"content"`
}

type apiMessageList struct {
	Data    []apiMessage `json:"data"`
	HasMore bool         `json:"has_more"`
	LastID  string       `json:"last_id"`
}

type apiRunRequest struct {
	AssistantID            string    `json:"assistant_id"`
	Model                  string    `json:"model,omitempty"`
	Instructions           string    `json:"instructions,omitempty"`
	AdditionalInstructions string    `json:"additional_instructions,omitempty"`
	Tools                  []apiTool `json:"tools,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiRun struct {
	ID             string `json:"id"`
	ThreadID       string `json:"thread_id"`
	AssistantID    string `json:"assistant_id"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"created_at"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs struct {
			ToolCalls []apiToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

type apiToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type apiSubmitRequest struct {
	ToolOutputs []apiToolOutput `json:"tool_outputs"`
}

// CreateAssistant registers an assistant with the given tools.
func (c *AssistantsClient) CreateAssistant(ctx context.Context, def ports.AssistantDefinition) (string, error) {
	if strings.TrimSpace(def.Model) == "" {
		return "", errors.New("model is required")
	}
	var out apiObject
	err := c.do(ctx, http.MethodPost, "/assistants", apiAssistantRequest{
		Name:         def.Name,
		Instructions: def.Instructions,
		Model:        def.Model,
		Tools:        toAPITools(def.Tools),
	}, &out)
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	return out.ID, nil
}

func (c *AssistantsClient) CreateThread(ctx context.Context) (string, error) {
	var out apiObject
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &out); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return out.ID, nil
}

func (c *AssistantsClient) AddMessage(ctx context.Context, threadID, role, content string) (ports.Message, error) {
	var out apiMessage
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, apiMessageRequest{Role: role, Content: content}, &out); err != nil {
		return ports.Message{}, fmt.Errorf("add message: %w", err)
	}
	return out.toMessage(), nil
}

func (c *AssistantsClient) CreateRun(ctx context.Context, threadID string, req ports.RunRequest) (ports.Run, error) {
	var out apiRun
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	err := c.do(ctx, http.MethodPost, path, apiRunRequest{
		AssistantID:            req.AssistantID,
		Model:                  req.Model,
		Instructions:           req.Instructions,
		AdditionalInstructions: req.AdditionalInstructions,
		Tools:                  toAPITools(req.Tools),
	}, &out)
	if err != nil {
		return ports.Run{}, fmt.Errorf("create run: %w", err)
	}
	return out.toRun(), nil
}

func (c *AssistantsClient) GetRun(ctx context.Context, threadID, runID string) (ports.Run, error) {
	var out apiRun
	if err := c.do(ctx, http.MethodGet, runPath(threadID, runID), nil, &out); err != nil {
		return ports.Run{}, fmt.Errorf("get run: %w", err)
	}
	return out.toRun(), nil
}

func (c *AssistantsClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ports.ToolOutput) (ports.Run, error) {
	body := apiSubmitRequest{ToolOutputs: make([]apiToolOutput, len(outputs))}
	for i, o := range outputs {
		body.ToolOutputs[i] = apiToolOutput{ToolCallID: o.ToolCallID, Output: o.Output}
	}
	var out apiRun
	if err := c.do(ctx, http.MethodPost, runPath(threadID, runID)+"/submit_tool_outputs", body, &out); err != nil {
		return ports.Run{}, fmt.Errorf("submit tool outputs: %w", err)
	}
	return out.toRun(), nil
}

func (c *AssistantsClient) CancelRun(ctx context.Context, threadID, runID string) (ports.Run, error) {
	var out apiRun
	if err := c.do(ctx, http.MethodPost, runPath(threadID, runID)+"/cancel", struct{}{}, &out); err != nil {
		return ports.Run{}, fmt.Errorf("cancel run: %w", err)
	}
	return out.toRun(), nil
}

// ListMessages pages through the thread in ascending order.
func (c *AssistantsClient) ListMessages(ctx context.Context, threadID string) ([]ports.Message, error) {
	var msgs []ports.Message
	after := ""
	for {
		q := url.Values{}
		q.Set("order", "asc")
		q.Set("limit", fmt.Sprint(messagePageSize))
		if after != "" {
			q.Set("after", after)
		}

		var page apiMessageList
		path := "/threads/" + url.PathEscape(threadID) + "/messages?" + q.Encode()
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range page.Data {
			msgs = append(msgs, m.toMessage())
		}
		if !page.HasMore || page.LastID == "" {
			return msgs, nil
		}
		after = page.LastID
	}
}

func (c *AssistantsClient) do(ctx context.Context, method, path string, body, out any) error {
	if c.apiKey == "" {
		return errors.New("assistants api key is required")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", assistantsBetaHeader)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call assistants api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	if len(body) > 0 {
		var parsed apiErrorEnvelope
		if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Error.Message) != "" {
			apiErr.Message = parsed.Error.Message
			apiErr.Type = parsed.Error.Type
			if parsed.Error.Code != nil {
				apiErr.Code = fmt.Sprint(parsed.Error.Code)
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func runPath(threadID, runID string) string {
	return "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
}

func toAPITools(defs []ports.ToolDefinition) []apiTool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]apiTool, len(defs))
	for i, d := range defs {
		tools[i] = apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return tools
}

func (m apiMessage) toMessage() ports.Message {
	var parts []string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	return ports.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      m.Role,
		Content:   strings.Join(parts, "\n"),
		RunID:     m.RunID,
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
}

func (r apiRun) toRun() ports.Run {
	run := ports.Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      ports.RunStatus(r.Status),
		CreatedAt:   time.Unix(r.CreatedAt, 0),
	}
	if r.RequiredAction != nil {
		for _, tc := range r.RequiredAction.SubmitToolOutputs.ToolCalls {
			run.RequiredAction = append(run.RequiredAction, ports.ToolCallRequest{
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	switch {
	case r.LastError != nil:
		run.LastError = &ports.ErrorInfo{Code: r.LastError.Code, Message: r.LastError.Message}
	case r.IncompleteDetails != nil:
		run.LastError = &ports.ErrorInfo{Code: "incomplete", Message: r.IncompleteDetails.Reason}
	}
	return run
}
