package locale

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJapaneseTemplates(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "ja", c.Language())

	assert.Equal(t, "こんにちは。my-chat-bot - gpt-35-turbo (version 0301)です。",
		c.Welcome("my-chat-bot", "gpt-35-turbo (version 0301)"))
	assert.Equal(t, "エラーが発生しました。もう1回試してみてね。詳細：rate limited",
		c.Error("rate limited"))
}

func TestErrorDetailIsNotInterpreted(t *testing.T) {
	c, err := New("en")
	require.NoError(t, err)

	// placeholders inside the detail must survive untouched
	assert.Equal(t, "Something went wrong. Please try again. Details: {bot} 100%",
		c.Error("{bot} 100%"))
}

func TestUnknownLanguage(t *testing.T) {
	_, err := New("fr")
	require.Error(t, err)
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"en", "ja"}, Languages())
}

func TestLoadCustomCatalog(t *testing.T) {
	data := []byte("de:\n  welcome: \"Hallo {model}\"\n  error: \"Fehler: {detail}\"\n")
	c, err := Load(data, "de")
	require.NoError(t, err)
	assert.Equal(t, "Hallo m", c.Welcome("b", "m"))

	_, err = Load([]byte("de:\n  welcome: \"x\"\n"), "de")
	require.Error(t, err)
}

func TestOpenCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("en:\n  welcome: \"Hi from {bot}\"\n  error: \"Oops: {detail}\"\n"), 0o600))

	c, err := Open(path, "en")
	require.NoError(t, err)
	assert.Equal(t, "Hi from relay", c.Welcome("relay", "m"))

	_, err = Open(path, "ja")
	require.Error(t, err)

	c, err = Open("", "ja")
	require.NoError(t, err)
	assert.Equal(t, "ja", c.Language())

	_, err = Open(filepath.Join(t.TempDir(), "absent.yaml"), "en")
	require.Error(t, err)
}
