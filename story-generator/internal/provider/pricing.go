package provider

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Price - тарифы модели. Стоимость считается детерминированно из размеров
// запроса/ответа, без обращения к биллингу вендора.
type Price struct {
	InputPerMTokUSD  float64 // за 1М входных токенов
	OutputPerMTokUSD float64 // за 1М выходных токенов
	PerMCharsUSD     float64 // озвучка, за 1М символов
	PerImageUSD      float64
	PerMBAudioUSD    float64 // расшифровка, за мегабайт аудио
}

// PriceTable - тарифы по имени модели. Модели без записи считаются по Fallback.
type PriceTable struct {
	Models   map[string]Price
	Fallback Price
}

// DefaultPriceTable - публичные тарифы моделей из стартовой таблицы вендоров.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Models: map[string]Price{
			"gpt-4o-mini":              {InputPerMTokUSD: 0.15, OutputPerMTokUSD: 0.6},
			"gpt-4o":                   {InputPerMTokUSD: 2.5, OutputPerMTokUSD: 10},
			"meta-llama/llama-4-scout": {InputPerMTokUSD: 0.08, OutputPerMTokUSD: 0.3},
			"tts-1":                    {PerMCharsUSD: 15},
			"tts-1-hd":                 {PerMCharsUSD: 30},
			"dall-e-3":                 {PerImageUSD: 0.04},
			"dall-e-2":                 {PerImageUSD: 0.02},
			"whisper-1":                {PerMBAudioUSD: 0.006},
			"sana-1.6b":                {},
		},
		Fallback: Price{InputPerMTokUSD: 0.1, OutputPerMTokUSD: 0.4},
	}
}

func (t PriceTable) lookup(model string) Price {
	if p, ok := t.Models[model]; ok {
		return p
	}
	return t.Fallback
}

func (t PriceTable) TokenCost(model string, prompt, completion int) float64 {
	p := t.lookup(model)
	return float64(prompt)*p.InputPerMTokUSD/1_000_000.0 + float64(completion)*p.OutputPerMTokUSD/1_000_000.0
}

func (t PriceTable) SpeechCost(model, text string) float64 {
	return float64(utf8.RuneCountInString(text)) * t.lookup(model).PerMCharsUSD / 1_000_000.0
}

func (t PriceTable) ImageCost(model string, n int) float64 {
	return float64(n) * t.lookup(model).PerImageUSD
}

func (t PriceTable) TranscriptionCost(model string, audioBytes int) float64 {
	return float64(audioBytes) / (1 << 20) * t.lookup(model).PerMBAudioUSD
}

var (
	encodings   sync.Map // model -> *tiktoken.Tiktoken
	noEncodings sync.Map // model -> struct{}, для моделей без токенайзера
)

// EstimateTokens оценивает число токенов текста для модели.
// Если токенайзер недоступен, используется оценка ~4 символа на токен.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := encodingFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

func encodingFor(model string) *tiktoken.Tiktoken {
	if strings.Contains(model, "/") {
		// модели openrouter/ollama: tiktoken их не знает
		return nil
	}
	if v, ok := encodings.Load(model); ok {
		return v.(*tiktoken.Tiktoken)
	}
	if _, missing := noEncodings.Load(model); missing {
		return nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		noEncodings.Store(model, struct{}{})
		return nil
	}
	encodings.Store(model, enc)
	return enc
}
