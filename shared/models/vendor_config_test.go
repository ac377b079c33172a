package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVendorKey(t *testing.T) {
	op, lang, ok := ParseVendorKey("vendors.text.en-us")
	require.True(t, ok)
	assert.Equal(t, OperationText, op)
	assert.Equal(t, "en-us", lang)

	_, _, ok = ParseVendorKey("vendors.dance.en")
	assert.False(t, ok)
	_, _, ok = ParseVendorKey("quota.window")
	assert.False(t, ok)
	_, _, ok = ParseVendorKey("vendors.text.")
	assert.False(t, ok)

	assert.Equal(t, "vendors.speech.ru", VendorKey(OperationSpeech, "RU"))
}

func TestParseVendorCandidates(t *testing.T) {
	list, err := ParseVendorCandidates(`[{"vendor":"openai","model":"tts-1","params":{"voice":"nova","speed":0.9}}]`)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "nova", list[0].Params.Voice)
	assert.Equal(t, "openai/tts-1", list[0].Key())

	_, err = ParseVendorCandidates(`{"vendor":"openai"}`)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseVendorCandidates(`[{"vendor":"openai"}]`)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseVendorCandidates(`[{"vendor":"openai","model":"gpt-4o","params":{"temprature":0.7}}]`)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
