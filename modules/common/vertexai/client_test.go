package vertexai

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials(t *testing.T) {
	t.Run("설정이 없으면 ADC", func(t *testing.T) {
		creds, err := Credentials("", "")
		require.NoError(t, err)
		assert.Nil(t, creds)
	})

	t.Run("잘못된 JSON", func(t *testing.T) {
		_, err := Credentials("{not json", "")
		assert.ErrorContains(t, err, "invalid JSON credentials")
	})

	t.Run("파일 없음", func(t *testing.T) {
		_, err := Credentials("", filepath.Join(t.TempDir(), "missing.json"))
		assert.ErrorContains(t, err, "failed to read credentials file")
	})

	t.Run("파일 내용도 검증", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "creds.json")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

		_, err := Credentials("", path)
		assert.ErrorContains(t, err, "invalid JSON credentials")
	})
}
