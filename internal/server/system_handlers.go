package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aristath/moneta/internal/database"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	db          *database.DB
	startupTime time.Time
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, db *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		db:          db,
		startupTime: time.Now(),
	}
}

// SystemStatus is the payload for GET /api/system/status.
type SystemStatus struct {
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryUsedPct   float64 `json:"memory_used_pct"`
	ProcessRSSBytes uint64  `json:"process_rss_bytes"`
	DatabaseBytes   int64   `json:"database_bytes"`
	DataDir         string  `json:"data_dir"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		DatabaseBytes: h.db.SizeBytes(),
		DataDir:       h.dataDir,
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status.CPUPercent = cpuPercent[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		status.MemoryUsedPct = memStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			status.ProcessRSSBytes = memInfo.RSS
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}
