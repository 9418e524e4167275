package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Concatenator joins ordered inputs into one output file without re-encoding.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, output string) error
}

// ToolStatus reports whether a concatenation backend can run on this host.
type ToolStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command,omitempty"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// StatusReporter is implemented by concatenators that depend on something external.
type StatusReporter interface {
	Status() ToolStatus
}

// ToolError describes a failed external process run.
type ToolError struct {
	Tool     string
	ExitCode int // -1 when the process could not be started
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("%s could not be launched: %v", e.Tool, e.Err)
	}
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// commandRunner executes a command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// FFmpeg concatenates with ffmpeg's concat protocol and stream copy.
type FFmpeg struct {
	binary string
	run    commandRunner
}

// NewFFmpeg builds an ffmpeg-backed concatenator. An empty binary means "ffmpeg" on PATH.
func NewFFmpeg(binary string) *FFmpeg {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, run: defaultCommandRunner}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (f *FFmpeg) WithCommandRunner(r commandRunner) *FFmpeg {
	if f != nil && r != nil {
		f.run = r
	}
	return f
}

// Concat runs ffmpeg -i concat:a|b|c -c copy output.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to concatenate")
	}

	out, err := f.run(ctx, f.binary, buildConcatArgs(inputs, output)...)
	if err == nil {
		return nil
	}

	toolErr := &ToolError{
		Tool:     f.binary,
		ExitCode: -1,
		Output:   strings.TrimSpace(string(out)),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		toolErr.ExitCode = exitErr.ExitCode()
	}
	return toolErr
}

// Status reports whether the ffmpeg binary resolves.
func (f *FFmpeg) Status() ToolStatus {
	status := ToolStatus{Name: "ffmpeg", Command: f.binary}
	resolved, err := exec.LookPath(f.binary)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", f.binary)
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}

func buildConcatArgs(inputs []string, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", "concat:" + strings.Join(inputs, "|"),
		"-c", "copy",
		output,
	}
}

// Copy appends input bytes in order. It matches what the concat protocol does at the
// byte level and needs no external binary.
type Copy struct{}

// Concat writes every input, in order, into output.
func (Copy) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to concatenate")
	}

	dst, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			dst.Close()
			return err
		}
		if err := appendFile(dst, in); err != nil {
			dst.Close()
			return err
		}
	}
	return dst.Close()
}

// Status always reports available.
func (Copy) Status() ToolStatus {
	return ToolStatus{Name: "copy", Available: true}
}

func appendFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
