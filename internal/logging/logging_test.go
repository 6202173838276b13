package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_FileAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	log, err := New(Options{Level: "info", Dir: dir, FileName: "t.log", MaxSizeMB: 1, Console: &console})
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("hello")
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(filepath.Join(dir, "t.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"hello"`)
	require.NotContains(t, string(b), "hidden")
	require.Contains(t, console.String(), "hello")
}

func TestNew_NopAndBadLevel(t *testing.T) {
	log, err := New(Options{})
	require.NoError(t, err)
	log.Info("nowhere")

	_, err = New(Options{Level: "loud"})
	require.Error(t, err)
}
