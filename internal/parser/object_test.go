package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewObjectCreatesWorkspaceDirectory(t *testing.T) {
	root := t.TempDir()
	obj, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)

	info, err := os.Stat(obj.Directory())
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, filepath.Join(root, "phonology_"+obj.ID), obj.Directory())
}

func TestFilePathUsesPerTypeExtensions(t *testing.T) {
	root := t.TempDir()

	phon, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(phon.Directory(), "phonology.script"), phon.FilePath("script"))
	require.Equal(t, filepath.Join(phon.Directory(), "phonology.foma"), phon.FilePath("binary"))

	morph, err := NewObject(ObjectMorphology, root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(morph.Directory(), "morphology_dictionary.json"), morph.FilePath("dictionary"))

	lm, err := NewObject(ObjectLanguageModel, root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(lm.Directory(), "morpheme_language_model.lm"), lm.FilePath("arpa"))
	require.Equal(t, filepath.Join(lm.Directory(), "morpheme_language_model_trie.json"), lm.FilePath("trie"))

	mp, err := NewObject(ObjectMorphophonology, root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(mp.Directory(), "morphophonology_cache.json"), mp.FilePath("cache"))
}

func TestObjectDestroyRemovesWorkspace(t *testing.T) {
	root := t.TempDir()
	obj, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)

	require.NoError(t, obj.Destroy())
	_, err = os.Stat(obj.Directory())
	require.True(t, os.IsNotExist(err))
}

func TestScriptedCommandRunSuccessCapturesOutput(t *testing.T) {
	root := t.TempDir()
	obj, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)

	sc := NewScriptedCommand(obj)
	result := sc.Run(context.Background(), []string{"echo", "hello-parser"}, 5*time.Second)

	require.Equal(t, 0, result.ExitCode)
	require.False(t, result.TimedOut)
	require.Contains(t, result.Output, "hello-parser")
}

func TestScriptedCommandRunNonZeroExit(t *testing.T) {
	root := t.TempDir()
	obj, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)

	sc := NewScriptedCommand(obj)
	result := sc.Run(context.Background(), []string{"sh", "-c", "exit 3"}, 5*time.Second)

	require.Equal(t, 3, result.ExitCode)
	require.False(t, result.TimedOut)
}

func TestScriptedCommandRunTimeoutKillsProcess(t *testing.T) {
	root := t.TempDir()
	obj, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)

	sc := NewScriptedCommand(obj)
	start := time.Now()
	result := sc.Run(context.Background(), []string{"sleep", "5"}, 200*time.Millisecond)
	elapsed := time.Since(start)

	require.True(t, result.TimedOut)
	require.Equal(t, -1, result.ExitCode)
	require.Less(t, elapsed, 4*time.Second)
}

func TestScriptedCommandRunEmptyCommand(t *testing.T) {
	root := t.TempDir()
	obj, err := NewObject(ObjectPhonology, root)
	require.NoError(t, err)

	sc := NewScriptedCommand(obj)
	result := sc.Run(context.Background(), nil, time.Second)
	require.Equal(t, -1, result.ExitCode)
}

func TestExecutableInstalledAndRequireExecutable(t *testing.T) {
	require.True(t, ExecutableInstalled("sh"))
	require.NoError(t, RequireExecutable("sh"))

	require.False(t, ExecutableInstalled("definitely-not-a-real-executable-xyz"))
	err := RequireExecutable("definitely-not-a-real-executable-xyz")
	require.Error(t, err)
}

func TestLockForReturnsSameMutexForSameDirectory(t *testing.T) {
	a := LockFor("/some/workspace")
	b := LockFor("/some/workspace")
	require.Same(t, a, b)

	c := LockFor("/some/other/workspace")
	require.NotSame(t, a, c)
}
