package git

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExitInternal is reported when git could not be started or was killed.
const ExitInternal = 253

// Identity is the author and committer recorded on commits the runner makes.
type Identity struct {
	Name  string
	Email string
}

// Result is the verbatim outcome of a git invocation.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.Code == 0
}

// Runner executes git commands in a working directory.
type Runner struct {
	// Binary is the git executable; "git" resolved from PATH when empty.
	Binary   string
	Identity Identity
}

// NewRunner returns a Runner committing as identity.
func NewRunner(identity Identity) Runner {
	return Runner{Binary: "git", Identity: identity}
}

// Run executes git with args in dir and waits for it to exit. It never
// returns an error: failures to start or signals map to ExitInternal with
// the reason in Stderr.
func (r Runner) Run(ctx context.Context, dir string, args ...string) Result {
	binary := r.Binary
	if binary == "" {
		binary = "git"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = r.environ()

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) && exitError.ExitCode() > 0 {
		result.Code = exitError.ExitCode()
		return result
	}

	result.Code = ExitInternal
	if result.Stderr != "" && !strings.HasSuffix(result.Stderr, "\n") {
		result.Stderr += "\n"
	}
	result.Stderr += err.Error()
	return result
}

func (r Runner) environ() []string {
	env := append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_MERGE_AUTOEDIT=no",
	)
	if r.Identity.Name != "" {
		env = append(env,
			"GIT_AUTHOR_NAME="+r.Identity.Name,
			"GIT_COMMITTER_NAME="+r.Identity.Name,
		)
	}
	if r.Identity.Email != "" {
		env = append(env,
			"GIT_AUTHOR_EMAIL="+r.Identity.Email,
			"GIT_COMMITTER_EMAIL="+r.Identity.Email,
		)
	}
	return env
}

// IsRepository reports whether dir holds a git working tree.
func IsRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}
