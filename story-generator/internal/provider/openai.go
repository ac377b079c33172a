package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fairytale-server/shared/models"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	VendorOpenAI     = "openai"
	VendorOpenRouter = "openrouter"

	visionPrompt = "Describe this child's drawing for a storyteller in 2-4 sentences. " +
		"Name the characters, colors and setting. Answer in language: %s."
	maxAudioBytes = 25 << 20
)

// OpenAIConfig - настройки OpenAI-совместимого клиента.
// OpenRouter использует тот же протокол с другим BaseURL.
type OpenAIConfig struct {
	Vendor  string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Limit   LimitConfig
	Prices  PriceTable
}

// OpenAIClient реализует все операции поверх go-openai.
type OpenAIClient struct {
	base
	client *openaigo.Client
}

// NewOpenAIClient создает клиента OpenAI (или OpenRouter при Vendor=openrouter).
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if cfg.Vendor == "" {
		cfg.Vendor = VendorOpenAI
	}
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{
		base:   newBase(cfg.Vendor, cfg.Limit, cfg.Prices, logger),
		client: openaigo.NewClientWithConfig(clientCfg),
	}
}

func float32Val(f *float32) float32 {
	if f == nil {
		return 0 // 0 - дефолт API
	}
	return *f
}

func (c *OpenAIClient) chat(ctx context.Context, op models.OperationType, req openaigo.ChatCompletionRequest) (string, Usage, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	usage := Usage{Latency: time.Since(start)}
	if err != nil {
		return "", usage, c.fail(ctx, op, req.Model, err)
	}

	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens
	if len(resp.Choices) == 0 {
		usage.CostUSD = c.prices.TokenCost(req.Model, usage.PromptTokens, usage.CompletionTokens)
		return "", usage, c.invalid(op, req.Model, "no choices in response")
	}

	choice := resp.Choices[0]
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = EstimateTokens(req.Model, choice.Message.Content)
	}
	if usage.PromptTokens == 0 {
		for _, m := range req.Messages {
			usage.PromptTokens += EstimateTokens(req.Model, m.Content)
		}
	}
	usage.CostUSD = c.prices.TokenCost(req.Model, usage.PromptTokens, usage.CompletionTokens)

	if choice.FinishReason == openaigo.FinishReasonContentFilter || choice.Message.Refusal != "" {
		return "", usage, c.blocked(op, req.Model, "response withheld by vendor content filter")
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", usage, c.invalid(op, req.Model, "empty response")
	}
	return content, usage, nil
}

// DescribeImage описывает рисунок через vision-модель.
func (c *OpenAIClient) DescribeImage(ctx context.Context, req VisionRequest) (res VisionResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationVision, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationVision, req.Model); err != nil {
		return res, usage, err
	}
	if len(req.Image) == 0 {
		return res, usage, c.invalid(models.OperationVision, req.Model, "empty image")
	}

	mime := req.MIMEType
	if mime == "" {
		mime = http.DetectContentType(req.Image)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.Image))

	text, usage, err := c.chat(ctx, models.OperationVision, openaigo.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.Params.MaxTokens,
		Messages: []openaigo.ChatCompletionMessage{{
			Role: openaigo.ChatMessageRoleUser,
			MultiContent: []openaigo.ChatMessagePart{
				{Type: openaigo.ChatMessagePartTypeText, Text: fmt.Sprintf(visionPrompt, req.Language)},
				{Type: openaigo.ChatMessagePartTypeImageURL, ImageURL: &openaigo.ChatMessageImageURL{URL: dataURL, Detail: openaigo.ImageURLDetailLow}},
			},
		}},
	})
	if err != nil {
		return res, usage, err
	}
	return VisionResult{Description: text}, usage, nil
}

// GenerateStory пишет сказку, ответ модели должен быть JSON {"title","body"}.
func (c *OpenAIClient) GenerateStory(ctx context.Context, req TextRequest) (res TextResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationText, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationText, req.Model); err != nil {
		return res, usage, err
	}

	chatReq := openaigo.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: float32Val(req.Params.Temperature),
		TopP:        float32Val(req.Params.TopP),
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}
	if c.vendor == VendorOpenAI {
		chatReq.ResponseFormat = &openaigo.ChatCompletionResponseFormat{Type: openaigo.ChatCompletionResponseFormatTypeJSONObject}
	}

	text, usage, err := c.chat(ctx, models.OperationText, chatReq)
	if err != nil {
		return res, usage, err
	}
	story, ok := parseStory(text)
	if !ok {
		return res, usage, c.invalid(models.OperationText, req.Model, "response is not a story JSON object")
	}
	return story, usage, nil
}

// Synthesize озвучивает текст (mp3).
func (c *OpenAIClient) Synthesize(ctx context.Context, req SpeechRequest) (res SpeechResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationSpeech, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationSpeech, req.Model); err != nil {
		return res, usage, err
	}

	voice := req.Params.Voice
	if voice == "" {
		voice = string(openaigo.VoiceNova)
	}
	start := time.Now()
	raw, err := c.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
		Model:          openaigo.SpeechModel(req.Model),
		Input:          req.Text,
		Voice:          openaigo.SpeechVoice(voice),
		ResponseFormat: openaigo.SpeechResponseFormatMp3,
		Speed:          req.Params.Speed,
	})
	if err != nil {
		usage.Latency = time.Since(start)
		return res, usage, c.fail(ctx, models.OperationSpeech, req.Model, err)
	}
	defer raw.Close()

	audio, err := io.ReadAll(raw)
	usage.Latency = time.Since(start)
	if err != nil {
		return res, usage, c.fail(ctx, models.OperationSpeech, req.Model, err)
	}
	usage.CostUSD = c.prices.SpeechCost(req.Model, req.Text)
	if len(audio) == 0 {
		return res, usage, c.invalid(models.OperationSpeech, req.Model, "empty audio")
	}
	return SpeechResult{Audio: audio, ContentType: "audio/mpeg"}, usage, nil
}

// GenerateImage рисует обложку (b64_json).
func (c *OpenAIClient) GenerateImage(ctx context.Context, req ImageRequest) (res ImageResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationImage, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationImage, req.Model); err != nil {
		return res, usage, err
	}

	size := req.Params.Size
	if size == "" {
		size = openaigo.CreateImageSize1024x1024
	}
	start := time.Now()
	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		N:              1,
		Size:           size,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	usage.Latency = time.Since(start)
	if err != nil {
		return res, usage, c.fail(ctx, models.OperationImage, req.Model, err)
	}
	usage.CostUSD = c.prices.ImageCost(req.Model, len(resp.Data))
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return res, usage, c.invalid(models.OperationImage, req.Model, "no image data")
	}
	img, decErr := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if decErr != nil || len(img) == 0 {
		return res, usage, c.invalid(models.OperationImage, req.Model, "image data is not valid base64")
	}
	return ImageResult{Image: img, ContentType: http.DetectContentType(img)}, usage, nil
}

// Transcribe расшифровывает голосовую заметку.
func (c *OpenAIClient) Transcribe(ctx context.Context, req TranscriptionRequest) (res TranscriptionResult, usage Usage, err error) {
	defer func() { c.finish(models.OperationTranscription, req.Model, usage, err) }()
	if err = c.wait(ctx, models.OperationTranscription, req.Model); err != nil {
		return res, usage, err
	}
	if len(req.Audio) == 0 || len(req.Audio) > maxAudioBytes {
		return res, usage, c.invalid(models.OperationTranscription, req.Model, "audio is empty or too large")
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = "voice.m4a"
	}
	start := time.Now()
	resp, err := c.client.CreateTranscription(ctx, openaigo.AudioRequest{
		Model:    req.Model,
		FilePath: fileName,
		Reader:   bytes.NewReader(req.Audio),
		Language: baseLanguage(req.Language),
	})
	usage.Latency = time.Since(start)
	if err != nil {
		return res, usage, c.fail(ctx, models.OperationTranscription, req.Model, err)
	}
	usage.CostUSD = c.prices.TranscriptionCost(req.Model, len(req.Audio))
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return res, usage, c.invalid(models.OperationTranscription, req.Model, "empty transcript")
	}
	return TranscriptionResult{Text: text}, usage, nil
}

// baseLanguage превращает "en-US" в "en" (ISO-639-1 для whisper).
func baseLanguage(lang string) string {
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}
