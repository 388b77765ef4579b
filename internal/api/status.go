package api

import (
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// statusResponse is the operational snapshot served at /status.
type statusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	WorkerState   string  `json:"worker_state"`
	CacheName     string  `json:"cache_name"`
	PushPhase     string  `json:"push_phase"`
	Windows       int     `json:"windows"`
	Notifications int     `json:"notifications"`
	MemoryRSSMB   float64 `json:"memory_rss_mb"`
	MemoryUsedPct float64 `json:"system_memory_used_pct"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		WorkerState:   string(s.worker.State()),
		CacheName:     s.shell.CacheName(),
		PushPhase:     s.pushState.Phase().String(),
		Windows:       s.hub.Len(),
		Notifications: s.registry.Len(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			resp.MemoryRSSMB = float64(mi.RSS) / (1024 * 1024)
		}
	}

	return c.JSON(http.StatusOK, resp)
}
