package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fairytale-server/shared/models"
)

// Usage - сведения о стоимости одного вызова. Возвращается и при ошибке,
// если вендор успел выставить счет (например, ответ получен, но невалиден).
type Usage struct {
	CostUSD          float64
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Call - выбранная модель и ее параметры для одного вызова.
type Call struct {
	Model  string
	Params models.CandidateParams
}

type VisionRequest struct {
	Call
	Image    []byte
	MIMEType string
	Language string
}

type VisionResult struct {
	Description string
}

type TextRequest struct {
	Call
	SystemPrompt string
	UserPrompt   string
}

type TextResult struct {
	Title string
	Body  string
}

type SpeechRequest struct {
	Call
	Text     string
	Language string
}

type SpeechResult struct {
	Audio       []byte
	ContentType string
}

type ImageRequest struct {
	Call
	Prompt string
}

type ImageResult struct {
	Image       []byte
	ContentType string
}

type TranscriptionRequest struct {
	Call
	Audio    []byte
	FileName string
	Language string
}

type TranscriptionResult struct {
	Text string
}

// VisionClient описывает рисунок ребенка текстом.
type VisionClient interface {
	DescribeImage(ctx context.Context, req VisionRequest) (VisionResult, Usage, error)
}

// TextClient пишет сказку. Результат всегда содержит непустые title и body.
type TextClient interface {
	GenerateStory(ctx context.Context, req TextRequest) (TextResult, Usage, error)
}

// SpeechClient озвучивает текст.
type SpeechClient interface {
	Synthesize(ctx context.Context, req SpeechRequest) (SpeechResult, Usage, error)
}

// ImageClient рисует обложку.
type ImageClient interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, Usage, error)
}

// TranscriptionClient расшифровывает голосовую заметку.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (TranscriptionResult, Usage, error)
}

// Registry хранит клиентов по имени вендора и операции.
// Заполняется при старте, дальше только читается.
type Registry struct {
	mu      sync.RWMutex
	clients map[models.OperationType]map[string]any
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[models.OperationType]map[string]any)}
}

func (r *Registry) register(op models.OperationType, vendor string, client any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[op] == nil {
		r.clients[op] = make(map[string]any)
	}
	r.clients[op][vendor] = client
}

func (r *Registry) RegisterVision(vendor string, c VisionClient) {
	r.register(models.OperationVision, vendor, c)
}

func (r *Registry) RegisterText(vendor string, c TextClient) {
	r.register(models.OperationText, vendor, c)
}

func (r *Registry) RegisterSpeech(vendor string, c SpeechClient) {
	r.register(models.OperationSpeech, vendor, c)
}

func (r *Registry) RegisterImage(vendor string, c ImageClient) {
	r.register(models.OperationImage, vendor, c)
}

func (r *Registry) RegisterTranscription(vendor string, c TranscriptionClient) {
	r.register(models.OperationTranscription, vendor, c)
}

func (r *Registry) lookup(op models.OperationType, vendor string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[op][vendor]
	if !ok {
		return nil, fmt.Errorf("vendor %q does not support %s", vendor, op)
	}
	return c, nil
}

func (r *Registry) Vision(vendor string) (VisionClient, error) {
	c, err := r.lookup(models.OperationVision, vendor)
	if err != nil {
		return nil, err
	}
	return c.(VisionClient), nil
}

func (r *Registry) Text(vendor string) (TextClient, error) {
	c, err := r.lookup(models.OperationText, vendor)
	if err != nil {
		return nil, err
	}
	return c.(TextClient), nil
}

func (r *Registry) Speech(vendor string) (SpeechClient, error) {
	c, err := r.lookup(models.OperationSpeech, vendor)
	if err != nil {
		return nil, err
	}
	return c.(SpeechClient), nil
}

func (r *Registry) Image(vendor string) (ImageClient, error) {
	c, err := r.lookup(models.OperationImage, vendor)
	if err != nil {
		return nil, err
	}
	return c.(ImageClient), nil
}

func (r *Registry) Transcription(vendor string) (TranscriptionClient, error) {
	c, err := r.lookup(models.OperationTranscription, vendor)
	if err != nil {
		return nil, err
	}
	return c.(TranscriptionClient), nil
}

// Vendors возвращает имена вендоров, зарегистрированных для операции.
func (r *Registry) Vendors(op models.OperationType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients[op]))
	for v := range r.clients[op] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
