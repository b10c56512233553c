package parser

import (
	"context"
	"os/exec"
)

// Runner is the uniform interface behind which every external-toolkit
// invocation (foma, flookup, estimate-ngram) is issued (spec.md §2, C9
// "External-toolkit adapter"). Production code uses execRunner; tests
// substitute a FakeRunner so compile/apply/write_arpa behavior can be
// exercised without the real binaries installed.
type Runner interface {
	Run(ctx context.Context, dir string, cmd []string) (exitCode int, combinedOutput []byte, err error)
}

// execRunner is the real Runner, backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, cmd []string) (int, []byte, error) {
	if len(cmd) == 0 {
		return -1, nil, nil
	}
	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Dir = dir
	setupProcessGroup(c)
	// Kill the whole process group when ctx expires, so a grandchild (foma
	// under a driver script) can't hold the output pipe open past the deadline.
	c.Cancel = func() error {
		killProcessGroup(c)
		return nil
	}
	out, err := c.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		killProcessGroup(c)
		return -1, out, ctx.Err()
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), out, nil
		}
		return -1, out, err
	}
	return 0, out, nil
}

// defaultRunner is the process-wide Runner used by ScriptedCommand unless
// overridden for a test. Tests swap this via WithRunner/restore rather than
// threading a Runner through every call site, mirroring how the teacher
// injects fakes for its shell-execution package.
var defaultRunner Runner = execRunner{}

// WithRunner temporarily replaces the active Runner (for tests) and
// returns a function that restores the previous one.
func WithRunner(r Runner) func() {
	prev := defaultRunner
	defaultRunner = r
	return func() { defaultRunner = prev }
}

// FakeRunner is a scriptable Runner for tests: Responses maps the
// space-joined command line to a canned result. A command not found in
// Responses falls back to respondAnyWith (if set) or else (0, nil, nil).
type FakeRunner struct {
	Responses map[string]FakeResponse
	Calls     [][]string

	// respondAnyWith, when non-nil, is returned verbatim (exit 0) for any
	// command line not matched in Responses — useful when the command line
	// embeds a random temp-file name the test can't predict.
	respondAnyWith []byte
}

// FakeResponse is a canned (exitCode, output, error) triple FakeRunner
// returns for a matching command line.
type FakeResponse struct {
	ExitCode int
	Output   []byte
	Err      error
	TimedOut bool
}

func (f *FakeRunner) key(cmd []string) string {
	s := ""
	for i, c := range cmd {
		if i > 0 {
			s += " "
		}
		s += c
	}
	return s
}

func (f *FakeRunner) Run(ctx context.Context, dir string, cmd []string) (int, []byte, error) {
	f.Calls = append(f.Calls, cmd)
	resp, ok := f.Responses[f.key(cmd)]
	if !ok {
		return 0, f.respondAnyWith, nil
	}
	if resp.TimedOut {
		return -1, resp.Output, context.DeadlineExceeded
	}
	return resp.ExitCode, resp.Output, resp.Err
}
