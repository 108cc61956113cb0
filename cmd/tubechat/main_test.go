package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	mode, rest := parseMode([]string{"server", "--addr", ":9000"})
	assert.Equal(t, modeServer, mode)
	assert.Equal(t, []string{"--addr", ":9000"}, rest)

	mode, rest = parseMode([]string{"LOCAL"})
	assert.Equal(t, modeLocal, mode)
	assert.Empty(t, rest)

	mode, rest = parseMode([]string{"--user", "alice"})
	assert.Equal(t, modeClient, mode)
	assert.Equal(t, []string{"--user", "alice"}, rest)

	mode, _ = parseMode(nil)
	assert.Equal(t, modeClient, mode)
}

func TestBuildWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/join", buildWebsocketURL("127.0.0.1:8080", "join"))
	assert.Equal(t, "ws://127.0.0.1:8080/join", buildWebsocketURL("[::]:8080", "/join"))
	assert.Equal(t, "ws://127.0.0.1:9000/chat", buildWebsocketURL(":9000", "/chat"))
	assert.Equal(t, "ws://[::1]:8080/join", buildWebsocketURL("[::1]:8080", ""))
}

func TestOverrideString(t *testing.T) {
	value := "default"
	overrideString(&value, "")
	assert.Equal(t, "default", value)
	overrideString(&value, "flag")
	assert.Equal(t, "flag", value)
}
