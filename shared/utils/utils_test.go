package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"title":"A","body":"B"}`, `{"title":"A","body":"B"}`},
		{"fenced", "Here you go:\n```json\n{\"title\":\"A\"}\n```", `{"title":"A"}`},
		{"surrounded", `Sure! {"title":"A"} Enjoy.`, `{"title":"A"}`},
		{"broken", `{"title": "A"`, ""},
		{"no json", "Once upon a time", ""},
		{"array only", `[1,2]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.in))
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	id := uuid.New()
	gotTime, gotID, err := DecodeCursor(EncodeCursor(ts, id))
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTime))
	assert.Equal(t, id, gotID)

	_, _, err = DecodeCursor("%%%")
	assert.Error(t, err)

	gotTime, gotID, err = DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, gotTime.IsZero())
	assert.Equal(t, uuid.Nil, gotID)
}

func TestStringShort(t *testing.T) {
	assert.Equal(t, "abc", StringShort("abc", 5))
	assert.Equal(t, "ab...", StringShort("abcdefgh", 5))
}

func TestDecodeStrict(t *testing.T) {
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, DecodeStrict([]byte(`{"name":"Кот"}`), &out))
	assert.Equal(t, "Кот", out.Name)

	assert.Error(t, DecodeStrict([]byte(`{"name":"Кот","age":3}`), &out))
	assert.Error(t, DecodeStrict([]byte(`{"name":"Кот"} {"name":"Пес"}`), &out))
	assert.Error(t, DecodeStrict([]byte(`{"name":`), &out))
}

func TestReadSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SECRETS_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db_password"), []byte("  s3cret\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("\n"), 0o600))

	secret, err := ReadSecret("db_password")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)

	_, err = ReadSecret("empty")
	assert.Error(t, err)

	_, err = ReadSecret("missing")
	assert.Error(t, err)

	assert.Equal(t, "s3cret", ReadSecretOr("db_password", "fallback"))
	assert.Equal(t, "fallback", ReadSecretOr("missing", "fallback"))
}
