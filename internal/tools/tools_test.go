package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestTruncateOutput(t *testing.T) {
	t.Run("short text untouched", func(t *testing.T) {
		assert.Equal(t, "hello", TruncateOutput("hello", 512))
	})

	t.Run("long text keeps head and tail", func(t *testing.T) {
		text := strings.Repeat("a", 1000) + strings.Repeat("b", 1000)
		out := TruncateOutput(text, 600)
		assert.LessOrEqual(t, len([]rune(out)), 600)
		assert.True(t, strings.HasPrefix(out, "aaa"))
		assert.True(t, strings.HasSuffix(out, "bbb"))
		assert.Contains(t, out, "... [ Truncated ")
	})

	t.Run("multibyte text counts runes", func(t *testing.T) {
		text := strings.Repeat("你", 2000)
		out := TruncateOutput(text, 600)
		assert.LessOrEqual(t, len([]rune(out)), 600)
	})
}

func TestOutputLimit(t *testing.T) {
	assert.Equal(t, maxOutputChars, OutputLimit(1_000_000))
	assert.Equal(t, minOutputChars, OutputLimit(0))
	assert.Equal(t, 3000, OutputLimit(4000))
}

func TestBuiltinToolsetsRegistered(t *testing.T) {
	names := []string{}
	for _, ts := range DefaultRegistry.Toolsets() {
		names = append(names, ts.Name)
	}
	assert.Equal(t, []string{ToolsetFileSystem, ToolsetOsInteractions, ToolsetUserInteraction, ToolsetExecutionControl}, names)

	ec, ok := DefaultRegistry.Get(ToolsetExecutionControl)
	require.True(t, ok)
	finish, ok := ec.Tool(ToolFinishTask)
	require.True(t, ok)
	assert.True(t, finish.RequiresUserResponse)
	assert.Nil(t, finish.Execute)
}

func TestRegistryRejectsMissingExecutor(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Toolset{Name: "Broken", Tools: []Tool{{Name: "noop"}}})
	assert.Error(t, err)

	require.NoError(t, r.Register(&Toolset{Name: "Ok", Tools: []Tool{{Name: "ask", RequiresUserResponse: true}}}))
	assert.Error(t, r.Register(&Toolset{Name: "Ok"}))
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), []byte("c"), 0o644))

	env := Env{Workdir: dir}
	ctx := context.Background()

	out, err := DefaultRegistry.Execute(ctx, ToolsetFileSystem, "list_directory", env, nil)
	require.NoError(t, err)
	assert.Equal(t, "Directory: .\n1 [dir] sub\n2 [file] A.txt\n3 [file] b.txt", out)

	out, err = DefaultRegistry.Execute(ctx, ToolsetFileSystem, "list_directory", env, mustArgs(t, map[string]any{"recursive": true}))
	require.NoError(t, err)
	assert.Equal(t, "Directory: .\n1 [dir] sub\n  1.1 [file] c.txt\n2 [file] A.txt\n3 [file] b.txt", out)

	_, err = DefaultRegistry.Execute(ctx, ToolsetFileSystem, "list_directory", env, mustArgs(t, map[string]any{"path": "b.txt"}))
	var notDir *NotADirectoryError
	assert.ErrorAs(t, err, &notDir)

	_, err = DefaultRegistry.Execute(ctx, ToolsetFileSystem, "list_directory", env, mustArgs(t, map[string]any{"path": "missing"}))
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestWriteFileRequiresReadBeforeOverwrite(t *testing.T) {
	dir := t.TempDir()
	env := Env{Workdir: dir}
	ctx := context.Background()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	write := mustArgs(t, map[string]any{"path": "notes.md", "content": "new"})
	_, err := DefaultRegistry.Execute(ctx, ToolsetFileSystem, "write_file", env, write)
	var overwrite *OverwriteError
	require.ErrorAs(t, err, &overwrite)

	out, err := DefaultRegistry.Execute(ctx, ToolsetFileSystem, "read_file", env, mustArgs(t, map[string]any{"path": "notes.md"}))
	require.NoError(t, err)
	assert.Equal(t, "old", out)

	_, err = DefaultRegistry.Execute(ctx, ToolsetFileSystem, "write_file", env, write)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestReadFileBatch(t *testing.T) {
	dir := t.TempDir()
	env := Env{Workdir: dir}
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("old"), 0o644))

	out, err := DefaultRegistry.Execute(ctx, ToolsetFileSystem, "read_file_batch", env,
		mustArgs(t, map[string]any{"paths": []string{"a.txt", "b.txt", "missing.txt"}, "enable_line_numbers": true}))
	require.NoError(t, err)
	assert.Contains(t, out, "<file_content path=\"a.txt\">\n   1 | one\n   2 | two\n</file_content>")
	assert.Contains(t, out, "<file_content path=\"b.txt\">\n   1 | old\n</file_content>")
	assert.Contains(t, out, "<file_content path=\"missing.txt\">\nError: not found at missing.txt\n</file_content>")

	// Files read in a batch may be overwritten.
	_, err = DefaultRegistry.Execute(ctx, ToolsetFileSystem, "write_file", env, mustArgs(t, map[string]any{"path": "b.txt", "content": "new"}))
	require.NoError(t, err)

	_, err = DefaultRegistry.Execute(ctx, ToolsetFileSystem, "read_file_batch", env, mustArgs(t, map[string]any{"paths": []string{}}))
	assert.Error(t, err)
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	env := Env{Workdir: dir}
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "nested", "n.txt"), []byte("deep"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "out"), 0o755))

	run := func(src, dest string) (string, error) {
		return DefaultRegistry.Execute(ctx, ToolsetFileSystem, "copy", env, mustArgs(t, map[string]any{"src": src, "dest": dest}))
	}

	out, err := run("a.txt", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "Successfully copied 'a.txt' to 'b.txt'", out)
	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	// An existing directory receives the source under its own name.
	_, err = run("a.txt", "out")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "out", "a.txt"))

	_, err = run("src", "copied")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "copied", "nested", "n.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))

	_, err = run("a.txt", "b.txt")
	var exists *ExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "b.txt", exists.Path)

	_, err = run("missing.txt", "c.txt")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = run("src", "src/nested")
	assert.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "src", "nested", "src"))
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	env := Env{Workdir: dir}
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("a\nb\nb\n"), 0o644))

	_, err := DefaultRegistry.Execute(ctx, ToolsetFileSystem, "edit_file", env,
		mustArgs(t, map[string]any{"path": "main.go", "old_content": "b", "new_content": "c"}))
	var match *MatchError
	require.ErrorAs(t, err, &match)
	assert.Equal(t, 2, match.Count)

	out, err := DefaultRegistry.Execute(ctx, ToolsetFileSystem, "edit_file", env,
		mustArgs(t, map[string]any{"path": "main.go", "old_content": "a\n", "new_content": "z\n"}))
	require.NoError(t, err)
	assert.Contains(t, out, "-a")
	assert.Contains(t, out, "+z")
}

func TestShell(t *testing.T) {
	dir := t.TempDir()
	env := Env{Workdir: dir}
	ctx := context.Background()

	t.Run("rejects shell executables", func(t *testing.T) {
		_, err := DefaultRegistry.Execute(ctx, ToolsetOsInteractions, "shell", env,
			mustArgs(t, map[string]any{"command": "/bin/bash", "args": []string{"-c", "ls"}}))
		var rejected *RejectedCommandError
		assert.ErrorAs(t, err, &rejected)
	})

	t.Run("prefixes output with directory", func(t *testing.T) {
		out, err := DefaultRegistry.Execute(ctx, ToolsetOsInteractions, "shell", env,
			mustArgs(t, map[string]any{"command": "echo", "args": []string{"hi"}}))
		require.NoError(t, err)
		assert.Equal(t, "[Context: Current directory is "+dir+"]\nhi\n", out)
	})

	t.Run("times out", func(t *testing.T) {
		_, err := DefaultRegistry.Execute(ctx, ToolsetOsInteractions, "shell", env,
			mustArgs(t, map[string]any{"command": "sleep", "args": []string{"5"}, "timeout": 1}))
		var timeout *TimeoutError
		assert.ErrorAs(t, err, &timeout)
	})
}

func TestShowPlan(t *testing.T) {
	out, err := DefaultRegistry.Execute(context.Background(), ToolsetUserInteraction, "show_plan", Env{},
		mustArgs(t, map[string]any{"plan": "1. do it"}))
	require.NoError(t, err)
	assert.Equal(t, planShownMessage, out)
}
