package tools

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/prometheus/procfs"
)

const gib = 1024 * 1024 * 1024

// SystemInfoTool reports host platform, CPU, memory and root disk
// usage. Memory and load figures come from procfs and are omitted where
// it is not mounted.
func SystemInfoTool() *Tool {
	return &Tool{
		Name:        "get_system_info",
		Description: "Get the host's platform, CPU count, load, memory and disk usage.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			return systemInfo(), nil
		},
	}
}

func systemInfo() string {
	var b strings.Builder
	host, _ := os.Hostname()
	fmt.Fprintf(&b, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if host != "" {
		fmt.Fprintf(&b, "Hostname: %s\n", host)
	}
	fmt.Fprintf(&b, "CPUs: %d logical\n", runtime.NumCPU())

	if fs, err := procfs.NewDefaultFS(); err == nil {
		if load, err := fs.LoadAvg(); err == nil {
			fmt.Fprintf(&b, "Load: %.2f %.2f %.2f\n", load.Load1, load.Load5, load.Load15)
		}
		if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
			total := *mem.MemTotal * 1024
			var avail uint64
			if mem.MemAvailable != nil {
				avail = *mem.MemAvailable * 1024
			}
			fmt.Fprintf(&b, "Memory: %.1f GB total, %.1f GB available\n", float64(total)/gib, float64(avail)/gib)
		}
	}

	if total, free, err := diskUsage("/"); err == nil {
		fmt.Fprintf(&b, "Disk (/): %.1f GB total, %.1f GB free\n", float64(total)/gib, float64(free)/gib)
	}

	return strings.TrimRight(b.String(), "\n")
}
