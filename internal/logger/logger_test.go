package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
}

func TestSetRotatingFileWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sigwatch.log")
	closer, err := SetRotatingFile(RotateOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	require.NotNil(t, closer)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		_ = closer.Close()
	})

	Errorf("poll cycle failed: %s", "boom")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "poll cycle failed: boom")
}

func TestSetRotatingFileEmptyPath(t *testing.T) {
	closer, err := SetRotatingFile(RotateOptions{Path: "  "})
	require.NoError(t, err)
	assert.Nil(t, closer)
}

func TestWireLogBodiesOptIn(t *testing.T) {
	var buf bytes.Buffer
	SetWireWriter(&buf)
	t.Cleanup(func() {
		SetWireWriter(nil)
		EnableWireBodies(false)
	})

	LogWireResponse("bybit", "position/list", 200, `{"retCode":0}`)
	assert.Contains(t, buf.String(), "[WIRE][response][bybit][position/list]")
	assert.NotContains(t, buf.String(), "retCode")

	buf.Reset()
	EnableWireBodies(true)
	LogWireResponse("bybit", "position/list", 200, `{"retCode":0}`)
	assert.True(t, strings.Contains(buf.String(), `{"retCode":0}`))
}
