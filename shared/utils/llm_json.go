package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSONObject достает JSON-объект из ответа модели:
// сначала из блока ```json```, затем между первой { и последней }.
// Возвращает пустую строку, если валидного объекта нет.
func ExtractJSONObject(rawText string) string {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return ""
	}
	if json.Valid([]byte(rawText)) && strings.HasPrefix(rawText, "{") {
		return rawText
	}
	if m := fencedBlockRegex.FindStringSubmatch(rawText); len(m) > 1 {
		if candidate := strings.TrimSpace(m[1]); json.Valid([]byte(candidate)) && strings.HasPrefix(candidate, "{") {
			return candidate
		}
	}
	first := strings.Index(rawText, "{")
	last := strings.LastIndex(rawText, "}")
	if first != -1 && last > first {
		if candidate := rawText[first : last+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return ""
}

// StringShort обрезает строку до maxLen байт, добавляя многоточие.
func StringShort(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
