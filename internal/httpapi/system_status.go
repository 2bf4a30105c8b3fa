package httpapi

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fleetward/control-plane/pkg/version"
)

// handleSystemStatus reports the control plane process's own host metrics,
// distinct from the agent-reported SystemInfo carried on every heartbeat.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"version":    version.Version,
		"git_commit": version.GitCommit,
		"built_at":   version.BuildTime,
		"go_version": version.GoVersion,
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		body["cpu_usage_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["memory_usage_percent"] = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		body["disk_usage_percent"] = du.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		body["host_uptime_seconds"] = uptime
	}

	writeOK(w, http.StatusOK, body)
}
