package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyFileDetectsChangeOnFirstWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	r := &Replicator{}
	require.NoError(t, r.CopyFile(src, dst))
	require.True(t, r.Changed, "copying into a previously-absent destination is a change")

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestCopyFileNoChangeWhenContentIdentical(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("same"), 0o644))

	r := &Replicator{}
	require.NoError(t, r.CopyFile(src, dst))
	require.False(t, r.Changed)
}

func TestCopyFileShortCircuitsHashCheckOnceAlreadyChanged(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("same"), 0o644))

	r := &Replicator{Changed: true}
	require.NoError(t, r.CopyFile(src, dst))
	require.True(t, r.Changed, "once Changed is true it must stay true regardless of content")
}

func TestCopyFileIfExistsSkipsMissingSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "missing.txt")
	dst := filepath.Join(dir, "dst.txt")

	r := &Replicator{}
	require.NoError(t, r.CopyFileIfExists(src, dst))
	require.False(t, r.Changed)
	_, err := os.Stat(dst)
	require.True(t, os.IsNotExist(err))
}

func TestSetAttrMarksChangedOnlyWhenValueDiffers(t *testing.T) {
	r := &Replicator{}
	var wordBoundary string
	SetAttr(r, &wordBoundary, "#")
	require.True(t, r.Changed)
	require.Equal(t, "#", wordBoundary)

	r2 := &Replicator{}
	rich := true
	SetAttr(r2, &rich, true)
	require.False(t, r2.Changed)
}

func TestSetAttrSliceDetectsElementChange(t *testing.T) {
	r := &Replicator{}
	delims := []string{"-"}
	SetAttrSlice(r, &delims, []string{"-", "="})
	require.True(t, r.Changed)
	require.Equal(t, []string{"-", "="}, delims)

	r2 := &Replicator{}
	same := []string{"-", "="}
	SetAttrSlice(r2, &same, []string{"-", "="})
	require.False(t, r2.Changed)
}

func TestGenerateMorphophonologyBodyReplacesPhonologyDefinition(t *testing.T) {
	script := "define phonology a -> b || c _ d;\n"
	body, ok := GenerateMorphophonologyBody(script)
	require.True(t, ok)
	require.Contains(t, body, "define morphophonology morphology .o. ")
	require.NotContains(t, body, "define phonology")
}

func TestGenerateMorphophonologyBodyFallsBackWhenNoDefinition(t *testing.T) {
	_, ok := GenerateMorphophonologyBody("define somethingElse a -> b;\n")
	require.False(t, ok)
}
