package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/overlay/internal/health"
)

// ProcessInfo describes the host process.
type ProcessInfo struct {
	PID        int32   `yaml:"pid"`
	Name       string  `yaml:"name,omitempty"`
	RSSBytes   uint64  `yaml:"rssBytes,omitempty"`
	NumThreads int32   `yaml:"numThreads,omitempty"`
	CPUPercent float64 `yaml:"cpuPercent,omitempty"`
	Uptime     string  `yaml:"uptime,omitempty"`
}

// HostProcess collects figures for the current process. Fields that cannot
// be read are left empty.
func HostProcess(ctx context.Context) ProcessInfo {
	pid := int32(os.Getpid())
	info := ProcessInfo{PID: pid}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		log.Debug("host process not readable", "error", err.Error())
		return info
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		info.NumThreads = n
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		info.CPUPercent = cpu
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		info.Uptime = time.Since(time.UnixMilli(created)).Round(time.Second).String()
	}
	return info
}

// Dump is the document written by the dump-diagnostics action.
type Dump struct {
	Time      time.Time          `yaml:"time"`
	Session   string             `yaml:"session,omitempty"`
	Features  map[string]bool    `yaml:"features"`
	PanelMode string             `yaml:"panelMode"`
	Transport any                `yaml:"transport,omitempty"`
	GPU       any                `yaml:"gpu,omitempty"`
	Health    []health.Check     `yaml:"health,omitempty"`
	Metrics   map[string]float64 `yaml:"metrics,omitempty"`
	Process   ProcessInfo        `yaml:"process"`
	Logs      []string           `yaml:"logs,omitempty"`
}

// FileName returns the dump file name for t.
func FileName(t time.Time) string {
	return "diagnostics-" + t.UTC().Format("20060102-150405") + ".yaml"
}

// Write stores d as YAML in dir and returns the file path.
func Write(dir string, d Dump) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump directory: %w", err)
	}
	out, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode diagnostics: %w", err)
	}
	path := filepath.Join(dir, FileName(d.Time))
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write diagnostics: %w", err)
	}
	log.Info("diagnostics written", "path", path, "bytes", len(out))
	return path, nil
}
