package logger

import (
	"bytes"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestInitWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: charmlog.InfoLevel, Output: &buf, JSON: true, TimeFormat: "15:04:05"})
	defer Init(nil)

	Debug("hidden")
	Info("processed scan", "file", "1.3.6.1.mhd")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"processed scan"`)
	assert.Contains(t, out, `"file":"1.3.6.1.mhd"`)
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	Init(&Config{Level: charmlog.DebugLevel, Output: &buf, TimeFormat: "15:04:05"})
	defer Init(nil)

	With("subset", 3).Warn("missing mask")
	assert.Contains(t, buf.String(), "subset=3")
	assert.Contains(t, buf.String(), "missing mask")
}
