// Package parser implements the morphological parser subsystem: phonology
// and morphology finite-state transducers, an n-gram morpheme language
// model, their composition into a morphophonology, and the disambiguation/
// ranking/caching pipeline that turns a surface transcription into its most
// probable morphemic analysis (spec.md).
package parser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"oldparser/internal/logging"
	"oldparser/internal/perr"
)

// ObjectType is the closed sum type over compiled-artifact kinds (spec.md
// §3, §9 "closed sum type over object kinds").
type ObjectType string

const (
	ObjectPhonology      ObjectType = "phonology"
	ObjectMorphology     ObjectType = "morphology"
	ObjectLanguageModel  ObjectType = "morpheme_language_model"
	ObjectMorphophonology ObjectType = "morphophonology"
)

// fileExtensions maps a file-type tag to its on-disk extension, per kind.
// A kind or file type not listed here gets an empty extension (the bare
// base file name), matching spec.md §3's "extensions drawn from a fixed
// mapping."
var fileExtensions = map[ObjectType]map[string]string{
	ObjectPhonology: {
		"script":   ".script",
		"binary":   ".foma",
		"compiler": ".sh",
		"log":      ".log",
		"meta":     "_meta.json",
	},
	ObjectMorphology: {
		"script":     ".script",
		"binary":     ".foma",
		"compiler":   ".sh",
		"log":        ".log",
		"lexicon":    ".pickle",
		"dictionary": "_dictionary.json",
		"meta":       "_meta.json",
	},
	ObjectLanguageModel: {
		"corpus":     ".txt",
		"vocabulary": ".vocab",
		"arpa":       ".lm",
		"trie":       "_trie.json",
		"compiler":   ".sh",
		"log":        ".log",
		"meta":       "_meta.json",
	},
	ObjectMorphophonology: {
		"script":   ".script",
		"binary":   ".foma",
		"compiler": ".sh",
		"log":      ".log",
		"cache":    "_cache.json",
		"meta":     "_meta.json",
	},
}

// fileNameFor returns the base file name (no extension) used within an
// object's workspace for a given object type. All files in a workspace
// share this base name, matching the Python original's file_name property.
func fileNameFor(t ObjectType) string {
	switch t {
	case ObjectLanguageModel:
		return "morpheme_language_model"
	case ObjectMorphophonology:
		return "morphophonology"
	default:
		return string(t)
	}
}

// Object is the base identity and workspace-path logic shared by every
// compiled artifact (spec.md §3 "Object (abstract, C1)").
type Object struct {
	ID              string
	Type            ObjectType
	ParentDirectory string
}

// NewObject creates an Object with a fresh id and ensures its workspace
// directory exists.
func NewObject(objType ObjectType, parentDirectory string) (*Object, error) {
	o := &Object{
		ID:              uuid.NewString(),
		Type:            objType,
		ParentDirectory: parentDirectory,
	}
	if err := os.MkdirAll(o.Directory(), 0o755); err != nil {
		return nil, err
	}
	logging.Debug(logging.CategoryObject, "created %s workspace at %s", objType, o.Directory())
	return o, nil
}

// Directory returns this object's workspace path:
// parent_directory/<object_type>_<object_id>/ (spec.md §3). An Object with
// no ID (see ephemeralObject) is unpersisted and lives directly in its
// parent directory instead of a nested workspace.
func (o *Object) Directory() string {
	if o.ID == "" {
		return o.ParentDirectory
	}
	return filepath.Join(o.ParentDirectory, fmt.Sprintf("%s_%s", o.Type, o.ID))
}

// ephemeralObject returns an Object with no ID, rooted directly in
// directory rather than a nested UUID workspace. Used for unpersisted
// helper instances — a parser's my_morphology/my_language_model and the
// transient objects Generate uses to compute replication destination
// paths — mirroring the teacher's "directory" accessor, which falls back
// to the parent directory unmodified for an instance with no database id
// (spec.md §5 replication).
func ephemeralObject(objType ObjectType, directory string) *Object {
	return &Object{Type: objType, ParentDirectory: directory}
}

// objectDirectoryPattern recovers an Object's type and id from the
// workspace directory name NewObject constructs them into:
// "<object_type>_<uuid>".
var objectDirectoryPattern = regexp.MustCompile(`^(.+)_([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`)

// OpenObject reconstructs the Object rooted at an existing workspace
// directory (as printed by an earlier `init`/`generate` CLI run), so a
// later CLI invocation in a different process can resume work against it
// without minting a new id. Grounded on the Python original's `get(id)`
// class-method lookup, reimplemented here as directory-name parsing since
// this port has no backing database row to query.
func OpenObject(directory string) (*Object, error) {
	base := filepath.Base(directory)
	m := objectDirectoryPattern.FindStringSubmatch(base)
	if m == nil {
		return nil, fmt.Errorf("%q is not an object workspace directory (want <type>_<uuid>)", directory)
	}
	return &Object{
		ID:              m[2],
		Type:            ObjectType(m[1]),
		ParentDirectory: filepath.Dir(directory),
	}, nil
}

// FilePath returns the deterministic path for a file of the given type
// within this object's workspace.
func (o *Object) FilePath(fileType string) string {
	ext := fileExtensions[o.Type][fileType]
	return filepath.Join(o.Directory(), fileNameFor(o.Type)+ext)
}

// Destroy removes the object's workspace directory. Workspaces are never
// deleted implicitly elsewhere in this package (spec.md §3 invariant).
func (o *Object) Destroy() error {
	return os.RemoveAll(o.Directory())
}

// CommandResult is the outcome of a ScriptedCommand run.
type CommandResult struct {
	ExitCode int
	Output   string
	TimedOut bool
}

// ScriptedCommand runs a subprocess rooted at an Object's workspace with a
// wall-clock timeout, killing the full process tree on expiry (spec.md
// §4.1, C1). Grounded on the teacher's internal/tactile/direct.go (context-
// timeout exec.Cmd) and platform_unix.go (process-group kill).
type ScriptedCommand struct {
	obj *Object
}

// NewScriptedCommand returns a ScriptedCommand scoped to obj's workspace.
func NewScriptedCommand(obj *Object) *ScriptedCommand {
	return &ScriptedCommand{obj: obj}
}

// Run executes cmd (argv[0] plus arguments) with the given timeout, then
// writes its combined stdout+stderr to the object's log file. On timeout
// the process tree is killed and Run reports ExitCode -1 with TimedOut set,
// together with whatever output was captured before the kill. An empty cmd
// or a workspace that can't be created yields ExitCode -1 and no output.
func (s *ScriptedCommand) Run(ctx context.Context, cmd []string, timeout time.Duration) CommandResult {
	if len(cmd) == 0 {
		return CommandResult{ExitCode: -1}
	}
	if err := os.MkdirAll(s.obj.Directory(), 0o755); err != nil {
		return CommandResult{ExitCode: -1}
	}

	logPath := s.obj.FilePath("log")

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.Debug(logging.CategoryToolkit, "running %v (timeout=%s)", cmd, timeout)
	exitCode, output, runErr := defaultRunner.Run(execCtx, s.obj.Directory(), cmd)
	os.WriteFile(logPath, output, 0o644)

	if runErr == context.DeadlineExceeded {
		logging.Warn(logging.CategoryToolkit, "command %v timed out after %s", cmd, timeout)
		return CommandResult{ExitCode: -1, Output: string(output), TimedOut: true}
	}
	return CommandResult{ExitCode: exitCode, Output: string(output)}
}

// ExecutableInstalled reports whether name is resolvable on PATH, used to
// fail fast with perr.ToolkitAbsent before spawning (spec.md §7).
func ExecutableInstalled(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// RequireExecutable returns a ToolkitAbsent-kind *perr.Error if name is
// not on PATH.
func RequireExecutable(name string) error {
	if !ExecutableInstalled(name) {
		return perr.New(perr.ToolkitAbsent, fmt.Sprintf("required executable %q not found on PATH", name), nil)
	}
	return nil
}

// setupProcessGroup and killProcessGroup are platform-specific; the Unix
// branch below mirrors internal/tactile/platform_unix.go's Setpgid + Kill(-pgid).
func setupProcessGroup(cmd *exec.Cmd) {
	if runtime.GOOS == "windows" {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		cmd.Process.Kill()
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			syscall.Kill(-pgid, syscall.SIGTERM)
		}
	}
	cmd.Process.Kill()
}

// workspaceLocks serializes generate/compile/parse requests per-workspace,
// matching spec.md §5's "serialize per-parser on a per-workspace lock."
var (
	workspaceLocksMu sync.Mutex
	workspaceLocks   = map[string]*sync.Mutex{}
)

// LockFor returns the mutex associated with a workspace directory,
// creating it on first use.
func LockFor(directory string) *sync.Mutex {
	workspaceLocksMu.Lock()
	defer workspaceLocksMu.Unlock()
	l, ok := workspaceLocks[directory]
	if !ok {
		l = &sync.Mutex{}
		workspaceLocks[directory] = l
	}
	return l
}
