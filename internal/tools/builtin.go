package tools

import "github.com/nugget/hodie/internal/config"

// Builtins returns the local tools enabled by cfg, in a stable order:
// shell, workspace file tools, then system info followed by the
// process tools where procfs is available.
func Builtins(cfg config.ToolsConfig) []*Tool {
	var out []*Tool
	if cfg.Shell.Enabled {
		out = append(out, NewShellExec(cfg.Shell).Tool())
	}
	if ft := NewFileTools(cfg.Workspace.Path); ft.Enabled() {
		out = append(out, ft.Tools()...)
	}
	if cfg.System {
		out = append(out, SystemInfoTool())
		if pt, err := NewProcessTools(); err == nil {
			out = append(out, pt.Tools()...)
		}
	}
	return out
}
