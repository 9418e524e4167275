package merge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConcatArgs(t *testing.T) {
	args := buildConcatArgs([]string{"/a/chunk_000000.webm", "/a/chunk_000001.webm"}, "/out/x.webm")
	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", "concat:/a/chunk_000000.webm|/a/chunk_000001.webm",
		"-c", "copy",
		"/out/x.webm",
	}, args)
}

func TestFFmpegConcatPassesArgsToRunner(t *testing.T) {
	var gotName string
	var gotArgs []string
	ff := NewFFmpeg("/opt/ffmpeg").WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		return nil, nil
	})

	require.NoError(t, ff.Concat(context.Background(), []string{"a", "b"}, "out.webm"))
	assert.Equal(t, "/opt/ffmpeg", gotName)
	assert.Contains(t, gotArgs, "concat:a|b")
	assert.Equal(t, "out.webm", gotArgs[len(gotArgs)-1])
}

func TestFFmpegConcatLaunchFailure(t *testing.T) {
	ff := NewFFmpeg("").WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, exec.ErrNotFound
	})

	err := ff.Concat(context.Background(), []string{"a"}, "out.webm")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, -1, toolErr.ExitCode)
	assert.Equal(t, "ffmpeg", toolErr.Tool)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Contains(t, err.Error(), "could not be launched")
}

func TestFFmpegConcatNonZeroExit(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ff := NewFFmpeg("sh").WithCommandRunner(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		return exec.CommandContext(ctx, "sh", "-c", "echo 'Invalid data found' >&2; exit 1").CombinedOutput()
	})

	err := ff.Concat(context.Background(), []string{"a"}, "out.webm")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Equal(t, "Invalid data found", toolErr.Output)
}

func TestFFmpegConcatRequiresInputs(t *testing.T) {
	err := NewFFmpeg("ffmpeg").Concat(context.Background(), nil, "out.webm")
	require.Error(t, err)
}

func TestFFmpegStatusMissingBinary(t *testing.T) {
	status := NewFFmpeg("definitely-not-a-real-ffmpeg-binary").Status()
	assert.False(t, status.Available)
	assert.Contains(t, status.Detail, "not found")
}

func TestCopyConcatIsByteExact(t *testing.T) {
	dir := t.TempDir()
	parts := [][]byte{[]byte("\x1aE\xdf\xa3header"), []byte("cluster-1"), []byte("cluster-2")}
	var inputs []string
	var want []byte
	for i, p := range parts {
		path := filepath.Join(dir, "in"+string(rune('0'+i)))
		require.NoError(t, os.WriteFile(path, p, 0o644))
		inputs = append(inputs, path)
		want = append(want, p...)
	}

	out := filepath.Join(dir, "out.webm")
	require.NoError(t, Copy{}.Concat(context.Background(), inputs, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, Copy{}.Status().Available)
}

func TestCopyConcatMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := Copy{}.Concat(context.Background(), []string{filepath.Join(dir, "missing")}, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
