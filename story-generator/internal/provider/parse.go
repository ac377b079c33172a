package provider

import (
	"encoding/json"
	"strings"

	"fairytale-server/shared/utils"
)

// storyPayload - ожидаемая форма ответа модели при генерации сказки.
type storyPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// parseStory разбирает ответ модели в TextResult.
// Возвращает false, если в ответе нет JSON-объекта с непустыми title и body.
func parseStory(raw string) (TextResult, bool) {
	obj := utils.ExtractJSONObject(raw)
	if obj == "" {
		return TextResult{}, false
	}
	var p storyPayload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return TextResult{}, false
	}
	p.Title = strings.TrimSpace(p.Title)
	p.Body = strings.TrimSpace(p.Body)
	if p.Title == "" || p.Body == "" {
		return TextResult{}, false
	}
	return TextResult{Title: p.Title, Body: p.Body}, true
}
