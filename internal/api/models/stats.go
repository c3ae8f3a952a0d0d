package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CacheStatsResponse mirrors clientstream.Driver's hit/miss/occupancy counters.
type CacheStatsResponse struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Entries   int   `json:"entries"`
	StoreSize int64 `json:"store_size_bytes"`
}

// ServerStatsResponse contains server runtime statistics.
type ServerStatsResponse struct {
	Uptime         string                  `json:"uptime"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	StartTime      time.Time               `json:"start_time"`
	GoRoutines     int                     `json:"go_routines"`
	NumCPU         int                     `json:"num_cpu"`
	CPU            CPUStats                `json:"cpu"`
	Memory         MemoryStats             `json:"memory"`
	Cache          CacheStatsResponse      `json:"cache"`
	FilteringStats *FilteringStatsResponse `json:"filtering,omitempty"`
}
