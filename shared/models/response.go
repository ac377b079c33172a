package models

// ErrorResponse - стандартная структура для ответа об ошибке в формате JSON.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusResponse возвращается операциями, которые меняют статус истории.
type StatusResponse struct {
	StoryID string      `json:"storyId"`
	Status  StoryStatus `json:"status"`
}
