package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/hodie/internal/config"
)

func TestFileTools_ResolvePath(t *testing.T) {
	workspace := t.TempDir()
	ft := NewFileTools(workspace)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative path", "test.txt", false},
		{"nested path", "dir/subdir/file.txt", false},
		{"dot prefix", "./test.txt", false},
		{"empty is root", "", false},
		{"absolute inside", filepath.Join(workspace, "a.txt"), false},
		{"parent escape attempt", "../outside.txt", true},
		{"absolute escape attempt", "/etc/passwd", true},
		{"sneaky escape", "dir/../../outside.txt", true},
		{"sibling with shared prefix", workspace + "2/file.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ft.resolvePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("resolvePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestFileTools_Disabled(t *testing.T) {
	ft := NewFileTools("")
	assert.False(t, ft.Enabled())
	_, err := ft.Read(context.Background(), "x", 0, 0)
	assert.Error(t, err)
}

func TestFileTools_ReadWrite(t *testing.T) {
	ctx := context.Background()
	ft := NewFileTools(t.TempDir())

	require.NoError(t, ft.Write(ctx, "notes/todo.txt", "one\ntwo\nthree\n", false))
	require.NoError(t, ft.Write(ctx, "notes/todo.txt", "four\n", true))

	got, err := ft.Read(ctx, "notes/todo.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nfour\n", got)

	got, err = ft.Read(ctx, "notes/todo.txt", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "[Lines 2-3 of 5]\ntwo\nthree", got)

	_, err = ft.Read(ctx, "notes/todo.txt", 99, 0)
	assert.ErrorContains(t, err, "exceeds file length")

	_, err = ft.Read(ctx, "missing.txt", 0, 0)
	assert.ErrorContains(t, err, "file not found")
}

func TestFileTools_ListMkdirDelete(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	ft := NewFileTools(ws)

	require.NoError(t, ft.Mkdir(ctx, "a/b"))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a", "f.txt"), []byte("12345"), 0o644))

	entries, err := ft.List(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b/", "f.txt (5 bytes)"}, entries)

	info, err := ft.Info(ctx, "a/f.txt")
	require.NoError(t, err)
	assert.Contains(t, info, "Type: File")
	assert.Contains(t, info, "Size: 5 bytes")

	_, err = ft.Delete(ctx, ".")
	assert.ErrorContains(t, err, "workspace root")

	msg, err := ft.Delete(ctx, "a")
	require.NoError(t, err)
	assert.Contains(t, msg, "Folder")
	_, err = os.Stat(filepath.Join(ws, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileTools_Search(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	ft := NewFileTools(ws)
	for _, p := range []string{"main.go", "pkg/util.go", "pkg/util_test.go", "README.md"} {
		require.NoError(t, ft.Write(ctx, p, "x", false))
	}

	got, err := ft.Search(ctx, "", "*.go", true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main.go", filepath.Join("pkg", "util.go"), filepath.Join("pkg", "util_test.go")}, got)

	got, err = ft.Search(ctx, ".", "*.go", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, got)

	_, err = ft.Search(ctx, "", "[", true)
	assert.ErrorContains(t, err, "invalid pattern")
}

func TestBuiltins(t *testing.T) {
	names := func(ts []*Tool) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.Name)
		}
		return out
	}

	assert.Empty(t, Builtins(config.ToolsConfig{}))

	got := names(Builtins(config.ToolsConfig{
		Shell:     config.ShellExecConfig{Enabled: true},
		Workspace: config.WorkspaceConfig{Path: t.TempDir()},
		System:    true,
	}))
	want := []string{
		"execute_command",
		"list_directory", "read_file", "write_file", "create_folder", "delete_path", "get_file_info", "search_files",
		"get_system_info",
	}
	if _, err := NewProcessTools(); err == nil {
		want = append(want, "list_processes", "get_process_info", "find_process_by_name", "list_disk_drives")
	}
	assert.Equal(t, want, got)
}

func TestSystemInfo(t *testing.T) {
	out, err := SystemInfoTool().Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Platform: "))
	assert.Contains(t, out, "CPUs:")
	if _, err := NewProcessTools(); err == nil {
		assert.Contains(t, out, "Load:")
		assert.Contains(t, out, "Memory:")
	}
}
