// Package agent implements the Agent abstraction (C9): a single-model
// worker bound to an AgentProfile that executes one task and streams its
// output chunks. The HTTP ModelGateway client is grounded on the
// teacher's ai/client.go request-building style (system/user message
// array, JSON body, bearer auth) generalized to the gateway-agnostic
// contract core.ModelGateway declares.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nexusai/orchestrator/core"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPGateway implements core.ModelGateway against an OpenAI-compatible
// chat-completions endpoint, instrumented with otelhttp the same way the
// teacher wraps its outbound clients in telemetry/http.go.
type HTTPGateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     core.Logger
	catalog    []core.ModelInfo
}

// NewHTTPGateway creates a gateway client. apiKey falls back to
// NEXUS_MODEL_GATEWAY_KEY when empty, mirroring the teacher's
// NewOpenAIClient fallback to OPENAI_API_KEY.
func NewHTTPGateway(baseURL, apiKey string, logger core.Logger) *HTTPGateway {
	if apiKey == "" {
		apiKey = os.Getenv("NEXUS_MODEL_GATEWAY_KEY")
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPGateway{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// ListModels returns the gateway's model catalog (§6). The caller
// (selector.ModelSelector) is responsible for the 1h cache described in
// §4.3; this call always hits the network.
func (g *HTTPGateway) ListModels(ctx context.Context) ([]core.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, core.NewTaskError("gateway.ListModels", core.CodeTransientUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewTaskError("gateway.ListModels", core.ClassifyHTTPStatus(resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}

	var body struct {
		Data []struct {
			ID      string `json:"id"`
			Context int    `json:"context_length"`
			Pricing struct {
				Prompt     float64 `json:"prompt"`
				Completion float64 `json:"completion"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding model catalog: %w", err)
	}

	models := make([]core.ModelInfo, 0, len(body.Data))
	for _, m := range body.Data {
		models = append(models, core.ModelInfo{
			ID:            m.ID,
			ContextLength: m.Context,
			PriceInPerM:   m.Pricing.Prompt,
			PriceOutPerM:  m.Pricing.Completion,
			Modality:      "text",
		})
	}
	return models, nil
}

// Complete issues a non-streaming chat completion (§6).
func (g *HTTPGateway) Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResponse, error) {
	start := time.Now()

	body := g.buildBody(req, false)
	httpResp, err := g.post(ctx, "/chat/completions", body, req.TimeoutMs)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, core.NewTaskError("gateway.Complete", core.ClassifyHTTPStatus(httpResp.StatusCode), fmt.Errorf("status %d", httpResp.StatusCode)).WithModel(req.ModelID)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding completion: %w", err)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return &core.CompletionResponse{
		Content:    content,
		TokensUsed: parsed.Usage.TotalTokens,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Stream issues a streaming chat completion, invoking onChunk for every
// delta received, and returns the aggregate response at the end — the
// agent's streaming events (§4.8) are derived from these callbacks.
func (g *HTTPGateway) Stream(ctx context.Context, req core.CompletionRequest, onChunk func(core.Chunk)) (*core.CompletionResponse, error) {
	start := time.Now()
	body := g.buildBody(req, true)

	httpResp, err := g.post(ctx, "/chat/completions", body, req.TimeoutMs)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, core.NewTaskError("gateway.Stream", core.ClassifyHTTPStatus(httpResp.StatusCode), fmt.Errorf("status %d", httpResp.StatusCode)).WithModel(req.ModelID)
	}

	var full bytes.Buffer
	tokens := 0
	scanner := newSSEScanner(httpResp.Body)
	for scanner.Next() {
		line := scanner.Data()
		if line == "[DONE]" {
			break
		}
		var evt struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if len(evt.Choices) == 0 {
			continue
		}
		delta := evt.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		tokens++
		onChunk(core.Chunk{Delta: delta})
	}
	onChunk(core.Chunk{Done: true})

	return &core.CompletionResponse{
		Content:    full.String(),
		TokensUsed: tokens,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (g *HTTPGateway) buildBody(req core.CompletionRequest, stream bool) map[string]interface{} {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	return map[string]interface{}{
		"model":       req.ModelID,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"stream":      stream,
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload map[string]interface{}, timeoutMs int64) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTaskError("gateway.post", core.CodeTransientUpstream, err)
	}
	return resp, nil
}

// sseScanner reads "data: {...}" lines from an SSE body, stripping the
// prefix so callers deal in raw JSON payloads.
type sseScanner struct {
	scanner *bufio.Scanner
	cur     string
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{scanner: bufio.NewScanner(r)}
}

// Next advances to the next non-empty "data: " line, skipping blank lines
// and SSE comments. Returns false at EOF or on a read error.
func (s *sseScanner) Next() bool {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			s.cur = strings.TrimSpace(payload)
			return true
		}
	}
	return false
}

func (s *sseScanner) Data() string { return s.cur }
