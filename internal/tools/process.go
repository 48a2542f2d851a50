package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/procfs"
)

// pseudoFS lists mount types that are not disk drives.
var pseudoFS = map[string]bool{
	"proc": true, "sysfs": true, "devtmpfs": true, "devpts": true, "tmpfs": true,
	"cgroup": true, "cgroup2": true, "mqueue": true, "securityfs": true, "debugfs": true,
	"tracefs": true, "pstore": true, "bpf": true, "configfs": true, "fusectl": true,
	"hugetlbfs": true, "autofs": true, "binfmt_misc": true, "nsfs": true, "rpc_pipefs": true,
	"efivarfs": true, "selinuxfs": true, "ramfs": true,
}

// ProcessTools inspects running processes and mounted drives through
// procfs. It is read-only.
type ProcessTools struct {
	fs procfs.FS
}

// NewProcessTools opens the default /proc mount. It fails on hosts
// without procfs.
func NewProcessTools() (*ProcessTools, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcessTools{fs: fs}, nil
}

// Process is a snapshot of one process.
type Process struct {
	PID        int
	PPID       int
	Name       string
	State      string
	Threads    int
	RSS        uint64
	MemPercent float64
	CPUSeconds float64
	Started    time.Time
	Cmdline    string
}

func (pt *ProcessTools) memTotal() uint64 {
	mi, err := pt.fs.Meminfo()
	if err != nil || mi.MemTotal == nil {
		return 0
	}
	return *mi.MemTotal * 1024
}

func (pt *ProcessTools) snapshot(p procfs.Proc, memTotal uint64) (*Process, error) {
	st, err := p.Stat()
	if err != nil {
		return nil, err
	}
	out := &Process{
		PID:        st.PID,
		PPID:       st.PPID,
		Name:       st.Comm,
		State:      st.State,
		Threads:    st.NumThreads,
		RSS:        uint64(max(st.ResidentMemory(), 0)),
		CPUSeconds: st.CPUTime(),
	}
	if memTotal > 0 {
		out.MemPercent = float64(out.RSS) / float64(memTotal) * 100
	}
	if start, err := st.StartTime(); err == nil {
		out.Started = time.Unix(int64(start), 0)
	}
	if args, err := p.CmdLine(); err == nil {
		out.Cmdline = strings.Join(args, " ")
	}
	return out, nil
}

// List returns every readable process. Processes that exit while being
// read are skipped.
func (pt *ProcessTools) List(ctx context.Context) ([]*Process, error) {
	procs, err := pt.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	memTotal := pt.memTotal()

	out := make([]*Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snap, err := pt.snapshot(p, memTotal)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Info returns one process by pid.
func (pt *ProcessTools) Info(pid int) (*Process, error) {
	p, err := pt.fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("process %d not found", pid)
	}
	return pt.snapshot(p, pt.memTotal())
}

// Find returns processes whose name contains name, case-insensitively.
func (pt *ProcessTools) Find(ctx context.Context, name string) ([]*Process, error) {
	all, err := pt.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var out []*Process
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Drive is a mounted block filesystem with its usage.
type Drive struct {
	Device     string
	MountPoint string
	FSType     string
	Total      uint64
	Free       uint64
}

// Drives lists mounted filesystems that report a size, skipping
// pseudo filesystems and repeated mount points.
func (pt *ProcessTools) Drives() ([]*Drive, error) {
	mounts, err := procfs.GetMounts()
	if err != nil {
		return nil, fmt.Errorf("read mounts: %w", err)
	}

	seen := make(map[string]bool)
	var out []*Drive
	for _, m := range mounts {
		if pseudoFS[m.FSType] || seen[m.MountPoint] {
			continue
		}
		seen[m.MountPoint] = true
		total, free, err := diskUsage(m.MountPoint)
		if err != nil || total == 0 {
			continue
		}
		out = append(out, &Drive{
			Device:     m.Source,
			MountPoint: m.MountPoint,
			FSType:     m.FSType,
			Total:      total,
			Free:       free,
		})
	}
	return out, nil
}

func formatProcess(p *Process) string {
	return fmt.Sprintf("PID %d | %s | %s | mem %.1f%% (%.1f MB) | cpu %.1fs",
		p.PID, p.Name, p.State, p.MemPercent, float64(p.RSS)/(1024*1024), p.CPUSeconds)
}

// Tools returns the process and drive tools.
func (pt *ProcessTools) Tools() []*Tool {
	return []*Tool{
		{
			Name:        "list_processes",
			Description: "List running processes, sorted by memory use or cumulative CPU time.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit":   map[string]any{"type": "integer", "minimum": 1, "description": "Maximum processes to return (default 20)"},
					"sort_by": map[string]any{"type": "string", "enum": []string{"memory", "cpu"}, "description": "memory (default) or cpu"},
				},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				procs, err := pt.List(ctx)
				if err != nil {
					return "", err
				}
				sortBy, _ := args["sort_by"].(string)
				sort.SliceStable(procs, func(i, j int) bool {
					if sortBy == "cpu" {
						return procs[i].CPUSeconds > procs[j].CPUSeconds
					}
					return procs[i].RSS > procs[j].RSS
				})
				limit := intArg(args, "limit")
				if limit <= 0 {
					limit = 20
				}
				if len(procs) > limit {
					procs = procs[:limit]
				}
				lines := make([]string, len(procs))
				for i, p := range procs {
					lines[i] = formatProcess(p)
				}
				return strings.Join(lines, "\n"), nil
			},
		},
		{
			Name:        "get_process_info",
			Description: "Get details about one process by PID.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pid": map[string]any{"type": "integer", "minimum": 1, "description": "Process ID"},
				},
				"required": []string{"pid"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				p, err := pt.Info(intArg(args, "pid"))
				if err != nil {
					return "", err
				}
				var b strings.Builder
				fmt.Fprintf(&b, "PID: %d\nParent PID: %d\nName: %s\nState: %s\nThreads: %d\n",
					p.PID, p.PPID, p.Name, p.State, p.Threads)
				fmt.Fprintf(&b, "Memory: %.1f%% (%.1f MB RSS)\nCPU time: %.1fs\n",
					p.MemPercent, float64(p.RSS)/(1024*1024), p.CPUSeconds)
				if !p.Started.IsZero() {
					fmt.Fprintf(&b, "Started: %s\n", p.Started.Format(time.DateTime))
				}
				if p.Cmdline != "" {
					fmt.Fprintf(&b, "Command: %s\n", p.Cmdline)
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
		{
			Name:        "find_process_by_name",
			Description: "Find processes whose name contains the given text (case-insensitive).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string", "minLength": 1, "description": "Name or partial name"},
				},
				"required": []string{"name"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				name, _ := args["name"].(string)
				procs, err := pt.Find(ctx, name)
				if err != nil {
					return "", err
				}
				if len(procs) == 0 {
					return fmt.Sprintf("No processes found matching %q.", name), nil
				}
				lines := []string{fmt.Sprintf("Found %d process(es) matching %q:", len(procs), name)}
				for _, p := range procs {
					lines = append(lines, formatProcess(p))
				}
				return strings.Join(lines, "\n"), nil
			},
		},
		{
			Name:        "list_disk_drives",
			Description: "List mounted disk drives with their size and free space.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(context.Context, map[string]any) (string, error) {
				drives, err := pt.Drives()
				if err != nil {
					return "", err
				}
				if len(drives) == 0 {
					return "No disk drives found.", nil
				}
				var b strings.Builder
				for _, d := range drives {
					used := d.Total - d.Free
					fmt.Fprintf(&b, "Drive: %s\n  Mount Point: %s\n  File System: %s\n", d.Device, d.MountPoint, d.FSType)
					fmt.Fprintf(&b, "  Total: %.1f GB\n  Used: %.1f GB (%.0f%%)\n  Free: %.1f GB\n",
						float64(d.Total)/gib, float64(used)/gib, float64(used)/float64(d.Total)*100, float64(d.Free)/gib)
				}
				return strings.TrimRight(b.String(), "\n"), nil
			},
		},
	}
}
