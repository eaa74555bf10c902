package proposer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/slotline/bookings-agent/internal/tools"
	"github.com/slotline/bookings-agent/pkg/config"
)

// OpenAIClient calls an OpenAI-compatible chat completions endpoint. An
// Azure-style deployment URL is used when APIVersion is configured.
type OpenAIClient struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewOpenAIClient(cfg config.OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *OpenAIClient) Propose(ctx context.Context, history []Message, catalog []tools.Schema) (*Proposal, error) {
	reqBody := map[string]any{
		"messages":    history,
		"tools":       toolsPayload(catalog),
		"tool_choice": "auto",
		"temperature": 0.2,
	}
	if c.cfg.APIVersion == "" {
		reqBody["model"] = c.cfg.Model
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIVersion != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("completion error %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string     `json:"content"`
				ToolCalls []ToolCall `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty completion (no choices)")
	}

	msg := parsed.Choices[0].Message
	return &Proposal{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

func (c *OpenAIClient) endpoint() string {
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if c.cfg.APIVersion != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, c.cfg.Model, c.cfg.APIVersion)
	}
	return base + "/v1/chat/completions"
}

// toolsPayload converts tool schemas into the chat completions function
// format.
func toolsPayload(catalog []tools.Schema) []map[string]any {
	out := make([]map[string]any, 0, len(catalog))
	for _, schema := range catalog {
		properties := make(map[string]any, len(schema.Params))
		required := make([]string, 0, len(schema.Params))
		for field, p := range schema.Params {
			jsonType := p.Type
			if jsonType == "any" {
				jsonType = "string"
			}
			properties[field] = map[string]any{"type": jsonType}
			if p.Required {
				required = append(required, field)
			}
		}
		sort.Strings(required)

		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        schema.Name,
				"description": schema.Description,
				"parameters": map[string]any{
					"type":                 "object",
					"properties":           properties,
					"required":             required,
					"additionalProperties": true,
				},
			},
		})
	}
	return out
}
