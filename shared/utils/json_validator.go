package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DecodeStrict декодирует ровно одно JSON-значение в out.
// Неизвестные поля и данные после значения - ошибка.
func DecodeStrict(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
