package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggingDisabledByDefaultWritesNothing(t *testing.T) {
	dir := t.TempDir()
	Configure(Config{DebugMode: false, Root: dir})
	Info(CategoryParser, "should not be written")
	_, err := os.Stat(filepath.Join(dir, ".oldparser", "logs", "parser.log"))
	require.True(t, os.IsNotExist(err))
}

func TestLoggingWritesPerCategoryFile(t *testing.T) {
	dir := t.TempDir()
	Configure(Config{DebugMode: true, Root: dir})
	Info(CategoryPhonology, "compiled %s", "phonology_1")
	path := filepath.Join(dir, ".oldparser", "logs", "phonology.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "compiled phonology_1")
}

func TestLoggingRespectsCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	Configure(Config{DebugMode: true, Root: dir, Categories: map[string]bool{"cache": false}})
	Info(CategoryCache, "nope")
	_, err := os.Stat(filepath.Join(dir, ".oldparser", "logs", "cache.log"))
	require.True(t, os.IsNotExist(err))
}

func TestTimerStopLogsDuration(t *testing.T) {
	dir := t.TempDir()
	Configure(Config{DebugMode: true, Root: dir})
	timer := StartTimer(CategoryToolkit, "compile")
	timer.Stop()
	path := filepath.Join(dir, ".oldparser", "logs", "toolkit.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "compile took")
}
