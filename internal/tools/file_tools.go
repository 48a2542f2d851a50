package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxReadBytes     = 50 * 1024
	maxSearchResults = 200
)

// FileTools provides file operations confined to a workspace directory.
type FileTools struct {
	workspacePath string
}

// NewFileTools creates a new FileTools instance.
// If workspacePath is empty, file tools will be disabled.
func NewFileTools(workspacePath string) *FileTools {
	return &FileTools{workspacePath: workspacePath}
}

// Enabled returns true if file tools are available.
func (ft *FileTools) Enabled() bool {
	return ft.workspacePath != ""
}

// resolvePath converts a path to an absolute path within the workspace.
// Returns an error if the path would escape the workspace.
func (ft *FileTools) resolvePath(path string) (string, error) {
	if ft.workspacePath == "" {
		return "", fmt.Errorf("workspace not configured")
	}

	workspaceAbs, err := filepath.Abs(ft.workspacePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}

	if path == "" {
		path = "."
	}
	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Join(workspaceAbs, path)
	}

	rel, err := filepath.Rel(workspaceAbs, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}

	return absPath, nil
}

// Read reads the contents of a file. offset is 1-indexed; limit caps
// the number of lines returned (0 = all).
func (ft *FileTools) Read(ctx context.Context, path string, offset, limit int) (string, error) {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)

	if offset > 0 || limit > 0 {
		lines := strings.Split(content, "\n")

		startLine := 0
		if offset > 0 {
			startLine = offset - 1
		}
		if startLine >= len(lines) {
			return "", fmt.Errorf("offset %d exceeds file length (%d lines)", offset, len(lines))
		}

		endLine := len(lines)
		if limit > 0 && startLine+limit < endLine {
			endLine = startLine + limit
		}

		content = strings.Join(lines[startLine:endLine], "\n")

		if startLine > 0 || endLine < len(lines) {
			content = fmt.Sprintf("[Lines %d-%d of %d]\n%s", startLine+1, endLine, len(lines), content)
		}
	}

	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n\n[... truncated, use offset/limit for more ...]"
	}

	return content, nil
}

// Write writes content to a file, creating directories as needed.
// With appendMode the content is added to the end of an existing file.
func (ft *FileTools) Write(ctx context.Context, path, content string, appendMode bool) error {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(absPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}

// List lists a directory, marking subdirectories with a trailing slash
// and files with their size.
func (ft *FileTools) List(ctx context.Context, path string) ([]string, error) {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var result []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			result = append(result, name+"/")
			continue
		}
		if info, err := entry.Info(); err == nil {
			name = fmt.Sprintf("%s (%d bytes)", name, info.Size())
		}
		result = append(result, name)
	}

	return result, nil
}

// Mkdir creates a directory and any missing parents.
func (ft *FileTools) Mkdir(ctx context.Context, path string) error {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// Delete removes a file or a directory tree. The workspace root itself
// cannot be deleted.
func (ft *FileTools) Delete(ctx context.Context, path string) (string, error) {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return "", err
	}
	root, _ := filepath.Abs(ft.workspacePath)
	if absPath == root {
		return "", fmt.Errorf("refusing to delete the workspace root")
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("path not found: %s", path)
		}
		return "", err
	}
	if info.IsDir() {
		if err := os.RemoveAll(absPath); err != nil {
			return "", fmt.Errorf("failed to delete folder: %w", err)
		}
		return fmt.Sprintf("Folder %q and all its contents deleted.", path), nil
	}
	if err := os.Remove(absPath); err != nil {
		return "", fmt.Errorf("failed to delete file: %w", err)
	}
	return fmt.Sprintf("File %q deleted.", path), nil
}

// Info describes a file or directory.
func (ft *FileTools) Info(ctx context.Context, path string) (string, error) {
	absPath, err := ft.resolvePath(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("path not found: %s", path)
		}
		return "", err
	}

	kind := "File"
	size := fmt.Sprintf("%d bytes", info.Size())
	if info.IsDir() {
		kind, size = "Directory", "-"
	}
	return strings.Join([]string{
		"Path: " + absPath,
		"Type: " + kind,
		"Size: " + size,
		"Mode: " + info.Mode().String(),
		"Modified: " + info.ModTime().Format("2006-01-02 15:04:05"),
	}, "\n"), nil
}

// Search finds entries whose base name matches a glob pattern.
func (ft *FileTools) Search(ctx context.Context, dir, pattern string, recursive bool) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	absDir, err := ft.resolvePath(dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectories are skipped, not fatal.
			if d != nil && d.IsDir() && p != absDir {
				return fs.SkipDir
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() && p != absDir && !recursive {
			return fs.SkipDir
		}
		if p == absDir {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			rel, _ := filepath.Rel(absDir, p)
			matches = append(matches, rel)
			if len(matches) >= maxSearchResults {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory not found: %s", dir)
		}
		return nil, err
	}
	return matches, nil
}

// Tools returns the file tools bound to this workspace.
func (ft *FileTools) Tools() []*Tool {
	pathParam := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}

	return []*Tool{
		{
			Name:        "list_directory",
			Description: "List the contents of a directory in the workspace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": pathParam("Directory path relative to the workspace (default: workspace root)"),
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, _ := args["path"].(string)
				entries, err := ft.List(ctx, path)
				if err != nil {
					return "", err
				}
				if len(entries) == 0 {
					return fmt.Sprintf("Directory %q is empty.", path), nil
				}
				return strings.Join(entries, "\n"), nil
			},
		},
		{
			Name:        "read_file",
			Description: "Read a text file from the workspace. Use offset/limit to page through large files.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":   pathParam("File path relative to the workspace"),
					"offset": map[string]any{"type": "integer", "description": "First line to read (1-indexed)", "minimum": 1},
					"limit":  map[string]any{"type": "integer", "description": "Maximum number of lines", "minimum": 1},
				},
				"required": []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, _ := args["path"].(string)
				return ft.Read(ctx, path, intArg(args, "offset"), intArg(args, "limit"))
			},
		},
		{
			Name:        "write_file",
			Description: "Write text to a file in the workspace, creating parent folders. Mode 'w' overwrites, 'a' appends.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    pathParam("File path relative to the workspace"),
					"content": map[string]any{"type": "string", "description": "Text to write"},
					"mode":    map[string]any{"type": "string", "enum": []string{"w", "a"}, "description": "w (default) or a"},
				},
				"required": []string{"path", "content"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				mode, _ := args["mode"].(string)
				if err := ft.Write(ctx, path, content, mode == "a"); err != nil {
					return "", err
				}
				action := "Wrote"
				if mode == "a" {
					action = "Appended"
				}
				return fmt.Sprintf("%s %d characters to %q.", action, len(content), path), nil
			},
		},
		{
			Name:        "create_folder",
			Description: "Create a folder in the workspace, including missing parents.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": pathParam("Folder path relative to the workspace")},
				"required":   []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, _ := args["path"].(string)
				if err := ft.Mkdir(ctx, path); err != nil {
					return "", err
				}
				return fmt.Sprintf("Folder %q created.", path), nil
			},
		},
		{
			Name:        "delete_path",
			Description: "Delete a file, or a folder and everything in it, from the workspace.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": pathParam("Path relative to the workspace")},
				"required":   []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, _ := args["path"].(string)
				return ft.Delete(ctx, path)
			},
		},
		{
			Name:        "get_file_info",
			Description: "Show type, size, permissions and modification time of a file or folder.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": pathParam("Path relative to the workspace")},
				"required":   []string{"path"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				path, _ := args["path"].(string)
				return ft.Info(ctx, path)
			},
		},
		{
			Name:        "search_files",
			Description: "Find files whose name matches a glob pattern such as '*.go' or 'test_*'.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"directory": pathParam("Directory to search, relative to the workspace"),
					"pattern":   map[string]any{"type": "string", "description": "Glob pattern matched against file names"},
					"recursive": map[string]any{"type": "boolean", "description": "Search subdirectories (default true)"},
				},
				"required": []string{"pattern"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				dir, _ := args["directory"].(string)
				pattern, _ := args["pattern"].(string)
				matches, err := ft.Search(ctx, dir, pattern, boolArg(args, "recursive", true))
				if err != nil {
					return "", err
				}
				if len(matches) == 0 {
					return fmt.Sprintf("No files matching %q.", pattern), nil
				}
				return fmt.Sprintf("Found %d match(es):\n%s", len(matches), strings.Join(matches, "\n")), nil
			},
		},
	}
}
