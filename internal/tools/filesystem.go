package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type fileSystem struct {
	mu sync.Mutex
	// read holds absolute paths read by read_file in this process.
	read map[string]bool
}

func newFileSystemToolset() *Toolset {
	f := &fileSystem{read: make(map[string]bool)}
	return &Toolset{
		Name: ToolsetFileSystem,
		Tools: []Tool{
			{
				Name:        "read_file",
				Description: "Read the contents of a file at the specified path, relative to the workspace directory. Enable line numbers when you plan to edit the file afterwards.",
				Parameters: object([]string{"path"}, map[string]any{
					"path":                prop("string", "The path of the file to read."),
					"enable_line_numbers": prop("boolean", "Whether to prefix each line with its number. Default false."),
				}),
				AutoApprove: true,
				Execute:     f.readFile,
			},
			{
				Name:        "read_file_batch",
				Description: "Read several files at once, relative to the workspace directory. Each file is wrapped in <file_content path=\"...\"> tags; a file that cannot be read carries its error instead of its content.",
				Parameters: object([]string{"paths"}, map[string]any{
					"paths": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "The paths of the files to read.",
					},
					"enable_line_numbers": prop("boolean", "Whether to prefix each line with its number. Default false."),
				}),
				AutoApprove: true,
				Execute:     f.readFileBatch,
			},
			{
				Name:        "list_directory",
				Description: "List files and directories within a directory. Directories come first, then files, each sorted alphabetically, marked [dir], [file] or [symlink -> target].",
				Parameters: object(nil, map[string]any{
					"path":      prop("string", "The directory to list, relative to the workspace directory. Default \".\"."),
					"recursive": prop("boolean", "Whether to list nested directories. Default false."),
					"max_depth": prop("integer", "Maximum depth for recursive listing. Omit for no limit."),
				}),
				AutoApprove: true,
				Execute:     f.listDirectory,
			},
			{
				Name:        "write_file",
				Description: "Write content to a file, creating parent directories as needed. Overwriting an existing file fails unless it was read before.",
				Parameters: object([]string{"path", "content"}, map[string]any{
					"path":    prop("string", "The path of the file to write."),
					"content": prop("string", "The content to write."),
				}),
				Execute: f.writeFile,
			},
			{
				Name:        "edit_file",
				Description: "Replace old_content with new_content in a file. old_content must match exactly once.",
				Parameters: object([]string{"path", "old_content", "new_content"}, map[string]any{
					"path":        prop("string", "The path of the file to edit."),
					"old_content": prop("string", "The exact content to replace."),
					"new_content": prop("string", "The replacement content."),
				}),
				Execute: f.editFile,
			},
			{
				Name:        "copy",
				Description: "Copy a file or directory. When dest is an existing directory the source is copied into it under its own name. An existing target is never overwritten.",
				Parameters: object([]string{"src", "dest"}, map[string]any{
					"src":  prop("string", "The path to copy from."),
					"dest": prop("string", "The path to copy to."),
				}),
				Execute: f.copy,
			},
			{
				Name:        "delete",
				Description: "Delete a file or a directory tree.",
				Parameters: object([]string{"path"}, map[string]any{
					"path": prop("string", "The path to delete."),
				}),
				Execute: f.delete,
			},
		},
	}
}

func resolvePath(workdir, path string) string {
	if workdir == "~" || strings.HasPrefix(workdir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			workdir = filepath.Join(home, strings.TrimPrefix(workdir, "~"))
		}
	}
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workdir, path)
}

func (f *fileSystem) markRead(abs string, read bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if read {
		f.read[abs] = true
	} else {
		delete(f.read, abs)
	}
}

func (f *fileSystem) wasRead(abs string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read[abs]
}

func (f *fileSystem) readFile(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Path              string `json:"path"`
		EnableLineNumbers bool   `json:"enable_line_numbers"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	content, err := f.readLines(env, args.Path, args.EnableLineNumbers)
	if err != nil {
		return "", err
	}
	return TruncateOutput(content, OutputLimit(env.remaining())), nil
}

// read returns the lines of a file and marks it as read.
func (f *fileSystem) readLines(env Env, path string, lineNumbers bool) (string, error) {
	abs := resolvePath(env.Workdir, path)
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &NotFoundError{Path: path}
	}
	if err != nil {
		return "", err
	}
	f.markRead(abs, true)

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if lineNumbers {
		for i, line := range lines {
			lines[i] = fmt.Sprintf("%4d | %s", i+1, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (f *fileSystem) readFileBatch(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Paths             []string `json:"paths"`
		EnableLineNumbers bool     `json:"enable_line_numbers"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if len(args.Paths) == 0 {
		return "", errors.New("paths must not be empty")
	}

	var b strings.Builder
	for _, path := range args.Paths {
		content, err := f.readLines(env, path, args.EnableLineNumbers)
		if err != nil {
			content = "Error: " + err.Error()
		}
		fmt.Fprintf(&b, "<file_content path=%q>\n%s\n</file_content>\n", path, content)
	}
	return TruncateOutput(b.String(), OutputLimit(env.remaining())), nil
}

func (f *fileSystem) listDirectory(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
		MaxDepth  *int   `json:"max_depth"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Path == "" {
		args.Path = "."
	}
	if args.MaxDepth != nil && *args.MaxDepth < 1 {
		return "", fmt.Errorf("invalid max_depth: %d", *args.MaxDepth)
	}

	abs := resolvePath(env.Workdir, args.Path)
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &NotFoundError{Path: args.Path}
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", &NotADirectoryError{Path: args.Path}
	}

	lines := []string{"Directory: " + args.Path}
	if args.Recursive {
		lines = append(lines, listRecursive(abs, "", 0, 1, args.MaxDepth)...)
	} else {
		lines = append(lines, listFlat(abs)...)
	}
	return TruncateOutput(strings.Join(lines, "\n"), OutputLimit(env.remaining())), nil
}

func sortedEntries(dir string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})
	return entries, nil
}

func formatEntry(dir string, entry fs.DirEntry) string {
	kind := "file"
	switch {
	case entry.Type()&fs.ModeSymlink != 0:
		target, err := os.Readlink(filepath.Join(dir, entry.Name()))
		if err != nil {
			target = "<unreadable>"
		}
		kind = "symlink -> " + target
	case entry.IsDir():
		kind = "dir"
	}
	return fmt.Sprintf("[%s] %s", kind, entry.Name())
}

func listFlat(dir string) []string {
	entries, err := sortedEntries(dir)
	if err != nil {
		return []string{"Error: " + err.Error()}
	}
	if len(entries) == 0 {
		return []string{"(empty directory)"}
	}
	lines := make([]string, 0, len(entries))
	for i, entry := range entries {
		lines = append(lines, fmt.Sprintf("%d %s", i+1, formatEntry(dir, entry)))
	}
	return lines
}

func listRecursive(dir, prefix string, indent, depth int, maxDepth *int) []string {
	if maxDepth != nil && depth > *maxDepth {
		return nil
	}
	entries, err := sortedEntries(dir)
	if err != nil {
		return nil
	}
	pad := strings.Repeat("  ", indent)
	if len(entries) == 0 {
		return []string{pad + "(empty directory)"}
	}
	var lines []string
	for i, entry := range entries {
		number := fmt.Sprintf("%s%d", prefix, i+1)
		lines = append(lines, fmt.Sprintf("%s%s %s", pad, number, formatEntry(dir, entry)))
		if entry.IsDir() {
			lines = append(lines, listRecursive(filepath.Join(dir, entry.Name()), number+".", indent+1, depth+1, maxDepth)...)
		}
	}
	return lines
}

func (f *fileSystem) writeFile(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	abs := resolvePath(env.Workdir, args.Path)
	if _, err := os.Stat(abs); err == nil && !f.wasRead(abs) {
		return "", &OverwriteError{Path: args.Path}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return "", err
	}
	f.markRead(abs, true)
	return "File written successfully.", nil
}

func (f *fileSystem) editFile(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Path       string `json:"path"`
		OldContent string `json:"old_content"`
		NewContent string `json:"new_content"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	abs := resolvePath(env.Workdir, args.Path)
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &NotFoundError{Path: args.Path}
	}
	if err != nil {
		return "", err
	}
	content := string(data)
	if n := strings.Count(content, args.OldContent); args.OldContent == "" || n != 1 {
		return "", &MatchError{Path: args.Path, Count: n}
	}
	updated := strings.Replace(content, args.OldContent, args.NewContent, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", args.Path, args.Path)
	for _, line := range strings.Split(args.OldContent, "\n") {
		b.WriteString("-" + line + "\n")
	}
	for _, line := range strings.Split(args.NewContent, "\n") {
		b.WriteString("+" + line + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func (f *fileSystem) delete(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	abs := resolvePath(env.Workdir, args.Path)
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &NotFoundError{Path: args.Path}
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
		f.markRead(abs, false)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("'%s' deleted successfully.", args.Path), nil
}

func (f *fileSystem) copy(ctx context.Context, env Env, raw json.RawMessage) (string, error) {
	var args struct {
		Src  string `json:"src"`
		Dest string `json:"dest"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	src := resolvePath(env.Workdir, args.Src)
	dest := resolvePath(env.Workdir, args.Dest)

	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &NotFoundError{Path: args.Src}
	}
	if err != nil {
		return "", err
	}
	if target, err := os.Stat(dest); err == nil && target.IsDir() {
		dest = filepath.Join(dest, filepath.Base(src))
	}
	if _, err := os.Lstat(dest); err == nil {
		return "", &ExistsError{Path: filepath.Base(dest)}
	}

	if info.IsDir() {
		if rel, err := filepath.Rel(src, dest); err == nil && !strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("cannot copy %s into itself", args.Src)
		}
		err = copyTree(src, dest)
	} else {
		err = copyFile(src, dest, info.Mode().Perm())
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully copied '%s' to '%s'", args.Src, args.Dest), nil
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case entry.IsDir():
			return os.MkdirAll(target, 0o755)
		default:
			info, err := entry.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}
