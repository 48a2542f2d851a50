package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessTools(t *testing.T) *ProcessTools {
	t.Helper()
	pt, err := NewProcessTools()
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	return pt
}

func processTool(t *testing.T, pt *ProcessTools, name string) *Tool {
	t.Helper()
	for _, tool := range pt.Tools() {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestProcessTools_Info(t *testing.T) {
	pt := newProcessTools(t)

	self, err := pt.Info(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), self.PID)
	assert.NotEmpty(t, self.Name)
	assert.Positive(t, self.Threads)

	out, err := processTool(t, pt, "get_process_info").Handler(context.Background(), map[string]any{"pid": float64(os.Getpid())})
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("PID: %d", os.Getpid()))
	assert.Contains(t, out, "Name: "+self.Name)

	_, err = pt.Info(1 << 30)
	assert.ErrorContains(t, err, "not found")
}

func TestProcessTools_ListAndFind(t *testing.T) {
	pt := newProcessTools(t)
	ctx := context.Background()

	out, err := processTool(t, pt, "list_processes").Handler(ctx, map[string]any{"limit": float64(3), "sort_by": "cpu"})
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.LessOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[0], "PID "))

	self, err := pt.Info(os.Getpid())
	require.NoError(t, err)
	found, err := pt.Find(ctx, strings.ToUpper(self.Name))
	require.NoError(t, err)
	var pids []int
	for _, p := range found {
		pids = append(pids, p.PID)
	}
	assert.Contains(t, pids, os.Getpid())

	out, err = processTool(t, pt, "find_process_by_name").Handler(ctx, map[string]any{"name": "no-such-process-zz9"})
	require.NoError(t, err)
	assert.Equal(t, `No processes found matching "no-such-process-zz9".`, out)
}

func TestProcessTools_Drives(t *testing.T) {
	pt := newProcessTools(t)

	drives, err := pt.Drives()
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, d := range drives {
		assert.False(t, pseudoFS[d.FSType], d.FSType)
		assert.False(t, seen[d.MountPoint], "duplicate mount %s", d.MountPoint)
		seen[d.MountPoint] = true
		assert.LessOrEqual(t, d.Free, d.Total)
	}

	out, err := processTool(t, pt, "list_disk_drives").Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
