package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fairytale-server/shared/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const VendorOllama = "ollama"

// OllamaConfig - настройки локального сервера Ollama.
type OllamaConfig struct {
	BaseURL string
	Timeout time.Duration
	Limit   LimitConfig
	Prices  PriceTable
}

// OllamaClient реализует vision и text поверх ollama/api.
type OllamaClient struct {
	base
	client *api.Client
}

func NewOllamaClient(cfg OllamaConfig, logger *zap.Logger) (*OllamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	baseURL := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", baseURL, err)
	}
	if cfg.Prices.Models == nil {
		// локальная модель бесплатна
		cfg.Prices = PriceTable{Models: map[string]Price{}}
	}
	return &OllamaClient{
		base:   newBase(VendorOllama, cfg.Limit, cfg.Prices, logger),
		client: api.NewClient(parsed, &http.Client{Timeout: cfg.Timeout}),
	}, nil
}

func (c *OllamaClient) options(p models.CandidateParams) map[string]interface{} {
	opts := map[string]interface{}{}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	return opts
}

func (c *OllamaClient) chat(ctx context.Context, op models.OperationType, req *api.ChatRequest) (string, Usage, error) {
	stream := false
	req.Stream = &stream

	start := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	usage := Usage{Latency: time.Since(start)}
	if err != nil {
		return "", usage, c.fail(ctx, op, req.Model, err)
	}

	usage.PromptTokens = resp.PromptEvalCount
	usage.CompletionTokens = resp.EvalCount
	usage.CostUSD = c.prices.TokenCost(req.Model, usage.PromptTokens, usage.CompletionTokens)

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", usage, c.invalid(op, req.Model, "empty response")
	}
	return content, usage, nil
}

// DescribeImage описывает рисунок мультимодальной моделью (llava и т.п.).
func (c *OllamaClient) DescribeImage(ctx context.Context, req VisionRequest) (res VisionResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationVision, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationVision, req.Model); err != nil {
		return res, usage, err
	}
	if len(req.Image) == 0 {
		return res, usage, c.invalid(models.OperationVision, req.Model, "empty image")
	}

	text, usage, err := c.chat(ctx, models.OperationVision, &api.ChatRequest{
		Model: req.Model,
		Messages: []api.Message{{
			Role:    "user",
			Content: fmt.Sprintf(visionPrompt, req.Language),
			Images:  []api.ImageData{req.Image},
		}},
		Options: c.options(req.Params),
	})
	if err != nil {
		return res, usage, err
	}
	return VisionResult{Description: text}, usage, nil
}

// GenerateStory пишет сказку в JSON-режиме Ollama.
func (c *OllamaClient) GenerateStory(ctx context.Context, req TextRequest) (res TextResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationText, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationText, req.Model); err != nil {
		return res, usage, err
	}

	text, usage, err := c.chat(ctx, models.OperationText, &api.ChatRequest{
		Model: req.Model,
		Messages: []api.Message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Format:  json.RawMessage(`"json"`),
		Options: c.options(req.Params),
	})
	if err != nil {
		return res, usage, err
	}
	story, ok := parseStory(text)
	if !ok {
		return res, usage, c.invalid(models.OperationText, req.Model, "response is not a story JSON object")
	}
	return story, usage, nil
}
