package safeurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHTTPOrHTTPS(t *testing.T) {
	assert.True(t, IsHTTPOrHTTPS("http://cdn.example.com/file.mkv"))
	assert.True(t, IsHTTPOrHTTPS("https://cdn.example.com/file.mkv?sig=abc"))
	assert.False(t, IsHTTPOrHTTPS("file:///etc/passwd"))
	assert.False(t, IsHTTPOrHTTPS("ftp://example.com/x"))
	assert.False(t, IsHTTPOrHTTPS("://bad"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/f.mkv",
		Redact("https://cdn.example.com/f.mkv?sig=secret&expires=123"))
	assert.Equal(t, "http://h/p", Redact("http://h/p"))
}
