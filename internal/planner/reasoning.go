package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"

	"github.com/scan-io-git/vulnimpact/internal/config"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// BackendReasoning names the chat-completions backend.
const BackendReasoning = "reasoning"

const systemPrompt = `You write dependency upgrade plans for security fixes.
Answer with a single JSON object with the keys "rationale" (string), "breaking_changes" (array of strings),
"steps" (ordered array of strings), "test_checklist" (array of strings) and "rollback" (string).
Use only the facts you are given.`

// Reasoning asks an OpenAI-compatible chat-completions endpoint for guidance.
type Reasoning struct {
	client   *resty.Client
	endpoint string
	model    string
	apiKey   string
	timeout  time.Duration
}

// NewReasoning creates the backend. It is unavailable without an endpoint and an API key.
func NewReasoning(client *resty.Client, cfg config.Reasoning) *Reasoning {
	return &Reasoning{
		client:   client,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
	}
}

func (r *Reasoning) Name() string { return BackendReasoning }

func (r *Reasoning) Available() bool {
	return r.client != nil && r.endpoint != "" && r.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Synthesize fails on transport errors, non-2xx responses, empty content,
// malformed JSON and incomplete guidance.
func (r *Reasoning) Synthesize(ctx context.Context, facts Facts) (Guidance, error) {
	if !r.Available() {
		return Guidance{}, errors.ErrBackendUnavailable
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(facts)
	if err != nil {
		return Guidance{}, fmt.Errorf("failed to encode facts: %w", err)
	}

	var result chatResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetAuthToken(r.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(chatRequest{
			Model: r.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: string(payload)},
			},
			Temperature:    0,
			ResponseFormat: map[string]string{"type": "json_object"},
		}).
		SetResult(&result).
		Post(r.endpoint + "/chat/completions")
	if err != nil {
		return Guidance{}, fmt.Errorf("reasoning request failed: %w", err)
	}
	if resp.IsError() {
		return Guidance{}, fmt.Errorf("reasoning backend returned status %d", resp.StatusCode())
	}
	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return Guidance{}, fmt.Errorf("reasoning backend returned no content")
	}

	var guidance Guidance
	content := stripCodeFence(result.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &guidance); err != nil {
		return Guidance{}, fmt.Errorf("reasoning backend returned malformed JSON: %w", err)
	}
	if err := guidance.validate(); err != nil {
		return Guidance{}, fmt.Errorf("reasoning backend returned incomplete guidance: %w", err)
	}
	return guidance, nil
}

// validate drops blank entries and requires steps, a test checklist and
// rollback instructions.
func (g *Guidance) validate() error {
	present := func(s string, _ int) bool { return strings.TrimSpace(s) != "" }
	g.Steps = lo.Filter(g.Steps, present)
	g.TestChecklist = lo.Filter(g.TestChecklist, present)
	g.BreakingChanges = lo.Filter(g.BreakingChanges, present)

	switch {
	case len(g.Steps) == 0:
		return fmt.Errorf("no migration steps")
	case len(g.TestChecklist) == 0:
		return fmt.Errorf("no test checklist")
	case strings.TrimSpace(g.Rollback) == "":
		return fmt.Errorf("no rollback instructions")
	}
	return nil
}

// stripCodeFence removes a surrounding markdown code fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
