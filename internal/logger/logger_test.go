package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
	})
	return &buf
}

func TestDebugSuppressedWithoutVerbose(t *testing.T) {
	buf := withBuffer(t)
	SetVerbose(false)

	Debug("hidden %d", 1)
	assert.Empty(t, buf.String())
}

func TestDebugPrintsWithVerbose(t *testing.T) {
	buf := withBuffer(t)
	SetVerbose(true)

	Debug("visible %d", 2)
	assert.Contains(t, buf.String(), "[DEBUG] visible 2")
}

func TestErrorAlwaysPrints(t *testing.T) {
	buf := withBuffer(t)
	SetVerbose(false)

	Error("boom: %s", "reason")
	assert.Contains(t, buf.String(), "[ERROR] boom: reason")
}

func TestEventFormatsSortedKeyValues(t *testing.T) {
	buf := withBuffer(t)
	SetVerbose(false)

	Event("sync_item_failed", map[string]any{
		"library":  "lib1",
		"document": "doc9",
		"attempts": 3,
	})

	assert.Equal(t, "[EVENT] sync_item_failed attempts=3 document=doc9 library=lib1\n", buf.String())
}
