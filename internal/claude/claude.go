// Package claude launches Claude CLI subprocesses and resolves their
// streamed output into structured results.
//
// Three invocation shapes exist:
//   - one-shot: a single prompt, no resumption;
//   - resumable turn: optionally resumes a prior session and yields a
//     fresh resumption token in its terminal record;
//   - compact: resumes a session with no prompt argument and drives an
//     in-place context reduction through a control command on stdin.
package claude

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/asheshgoplani/opsbridge/internal/logging"
	"github.com/asheshgoplani/opsbridge/internal/stream"
)

var runnerLog = logging.ForComponent(logging.CompRunner)

const (
	// compactCommand is the single control line written to stdin for the
	// compact shape. The process applies the reduction and exits on EOF.
	compactCommand = "/compact\n"

	// stderrTailSize bounds retained stderr per invocation.
	stderrTailSize = 4096
)

// Options configures a Launcher.
type Options struct {
	// Binary is the path to the claude executable. Empty means resolve
	// from PATH and common install locations.
	Binary string

	// Model is passed via --model on every invocation.
	Model string

	// WorkDir is the subprocess working directory. Empty inherits ours.
	WorkDir string

	// Env entries appended to the inherited environment.
	Env []string
}

// Launcher builds and starts Claude CLI invocations.
type Launcher struct {
	opts   Options
	binary string
}

// NewLauncher resolves the executable once and returns a launcher.
func NewLauncher(opts Options) (*Launcher, error) {
	binary := opts.Binary
	if binary == "" {
		resolved, err := resolveBinary()
		if err != nil {
			return nil, err
		}
		binary = resolved
	}
	return &Launcher{opts: opts, binary: binary}, nil
}

// resolveBinary finds the claude executable, checking PATH first and then
// common install locations.
func resolveBinary() (string, error) {
	if path, err := exec.LookPath("claude"); err == nil {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	commonPaths := []string{
		filepath.Join(home, ".claude", "local", "claude"),
		filepath.Join(home, ".local", "bin", "claude"),
		filepath.Join(home, "bin", "claude"),
		"/opt/homebrew/bin/claude",
		"/usr/local/bin/claude",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("claude executable not found in PATH or common locations")
}

// Result is the finalized outcome of one invocation.
type Result struct {
	// ExitCode is nil only when the process could not be waited on at
	// all; a forced kill reports -1.
	ExitCode *int

	// Response is the terminal record's text, falling back to the last
	// text block seen in turn updates.
	Response string

	// ResumeToken is the session identifier from the terminal record.
	// Empty when the record carried none.
	ResumeToken string

	// Usage is the last usage-bearing snapshot seen on the stream.
	// Counters are cumulative per record, so the last one wins.
	Usage *stream.Usage

	// CostUSD and NumTurns come from the terminal record only.
	CostUSD  float64
	NumTurns int

	// StderrTail is the last few KB of stderr, for error reporting.
	StderrTail string
}

// OK reports whether the invocation exited cleanly with a response.
func (r *Result) OK() bool {
	return r.ExitCode != nil && *r.ExitCode == 0 && r.Response != ""
}

// Handle is a live or finished invocation. Result() is valid once Done()
// is closed.
type Handle struct {
	cmd       *exec.Cmd
	startedAt time.Time

	done   chan struct{}
	result Result

	killOnce sync.Once
	killErr  error
}

// Done is closed when the process has exited and the result is final.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the finalized result. Only call after Done() is closed.
func (h *Handle) Result() Result {
	return h.result
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Kill forcibly terminates the process. Idempotent; the eventual result
// still resolves through Done().
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			h.killErr = h.cmd.Process.Kill()
		}
	})
	return h.killErr
}

// RunOneShot starts a fire-and-forget single-turn invocation.
func (l *Launcher) RunOneShot(prompt string) (*Handle, error) {
	args := l.baseArgs()
	args = append(args, "-p", prompt)
	return l.start(args, "")
}

// RunTurn starts a resumable turn. A non-empty resumeToken continues the
// prior session; the terminal record carries a fresh token either way.
func (l *Launcher) RunTurn(prompt, resumeToken string) (*Handle, error) {
	args := l.baseArgs()
	if resumeToken != "" {
		args = append(args, "--resume", resumeToken)
	}
	args = append(args, "-p", prompt)
	return l.start(args, "")
}

// RunCompact starts the interactive compact shape: resumed, no prompt
// argument, one control command written to stdin followed by EOF.
func (l *Launcher) RunCompact(resumeToken string) (*Handle, error) {
	args := l.baseArgs()
	args = append(args, "--resume", resumeToken)
	return l.start(args, compactCommand)
}

// baseArgs are shared by all shapes: model selector, permission bypass,
// structured streaming output.
func (l *Launcher) baseArgs() []string {
	return []string{
		"--model", l.opts.Model,
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
		"--verbose",
	}
}

func (l *Launcher) start(args []string, stdinData string) (*Handle, error) {
	cmd := exec.Command(l.binary, args...)
	cmd.Dir = l.opts.WorkDir
	cmd.Env = append(os.Environ(), l.opts.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderrTail := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderrTail

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start %s: %w", filepath.Base(l.binary), err)
	}

	h := &Handle{
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	if stdinData != "" {
		go func() {
			io.WriteString(stdin, stdinData)
			stdin.Close()
		}()
	} else {
		stdin.Close()
	}

	go h.collect(stdout, stderrTail)

	runnerLog.Debug("process started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("args", len(args)))

	return h, nil
}

// collect drains stdout through the stream parser, waits for exit, and
// finalizes the result.
func (h *Handle) collect(stdout io.ReadCloser, stderrTail *tailBuffer) {
	defer close(h.done)

	parser := stream.NewParser()
	var (
		lastUsage    *stream.Usage
		fallbackText string
		terminal     *stream.TerminalResult
	)

	apply := func(records []stream.Record) {
		for _, rec := range records {
			switch rec.Kind {
			case stream.KindTurnUpdate:
				if rec.Update.Usage != nil {
					lastUsage = rec.Update.Usage
				}
				if rec.Update.Text != "" {
					fallbackText = rec.Update.Text
				}
			case stream.KindTerminalResult:
				terminal = rec.Result
				if rec.Result.Usage != nil {
					lastUsage = rec.Result.Usage
				}
			}
		}
	}

	buf := make([]byte, 8192)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			apply(parser.Feed(buf[:n]))
		}
		if err != nil {
			break
		}
	}
	apply(parser.Flush())

	waitErr := h.cmd.Wait()

	res := Result{
		Response:   fallbackText,
		Usage:      lastUsage,
		StderrTail: stderrTail.String(),
	}
	if terminal != nil {
		if terminal.Response != "" {
			res.Response = terminal.Response
		}
		res.ResumeToken = terminal.SessionID
		res.CostUSD = terminal.TotalCostUSD
		res.NumTurns = terminal.NumTurns
	}

	if state := h.cmd.ProcessState; state != nil {
		code := state.ExitCode()
		res.ExitCode = &code
	} else if waitErr != nil {
		runnerLog.Warn("wait failed without process state", slog.String("error", waitErr.Error()))
	}

	runnerLog.Debug("process finished",
		slog.Any("exit_code", res.ExitCode),
		slog.Bool("had_result_record", terminal != nil),
		slog.Duration("elapsed", time.Since(h.startedAt)))

	h.result = res
}
