package utils

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

const cpuSampleInterval = 500 * time.Millisecond

// PoolStats ist die Sicht auf den Frame-Pool, die für die Statistik gebraucht wird
type PoolStats interface {
	WorkerCount() int
	ActiveJobCount() int
	QueueCapacity() int
	QueueLength() int
}

// SystemStats enthält aktuelle System- und Anwendungsstatistiken
type SystemStats struct {
	Uptime     string  `json:"uptime"`
	NumCPU     int     `json:"num_cpu"`
	GoRoutines int     `json:"go_routines"`
	CPUUsage   float64 `json:"cpu_usage"`

	// Speicher des Go-Prozesses
	MemoryAlloc      uint64 `json:"memory_alloc"`
	MemoryAllocHuman string `json:"memory_alloc_human"`
	ProcessRSS       uint64 `json:"process_rss"`
	ProcessRSSHuman  string `json:"process_rss_human"`

	// Arbeitsspeicher des Hosts
	HostMemoryTotal   uint64  `json:"host_memory_total"`
	HostMemoryUsedPct float64 `json:"host_memory_used_pct"`

	// Frame-Pool
	WorkerCount   int `json:"worker_count"`
	ActiveJobs    int `json:"active_jobs"`
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`

	Timestamp time.Time `json:"timestamp"`
}

// Collector erfasst Statistiken; die CPU-Messung wird kurz zwischengespeichert,
// damit häufige Abfragen den Host nicht belasten.
type Collector struct {
	pool    PoolStats
	started time.Time
	proc    *process.Process

	mu         sync.Mutex
	cpuSampled time.Time
	cpuUsage   float64
}

// NewCollector erstellt einen Collector; pool darf nil sein
func NewCollector(pool PoolStats) *Collector {
	c := &Collector{pool: pool, started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	} else {
		log.WithField("component", "stats").Warnf("Process stats unavailable: %v", err)
	}
	return c
}

// CPUUsage liefert die Host-CPU-Auslastung in Prozent
func (c *Collector) CPUUsage() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cpuSampled.IsZero() && time.Since(c.cpuSampled) < cpuSampleInterval {
		return c.cpuUsage
	}
	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		log.WithField("component", "stats").Debugf("CPU usage not available: %v", err)
		return c.cpuUsage
	}
	c.cpuSampled = time.Now()
	c.cpuUsage = percentages[0]
	return c.cpuUsage
}

// Collect erfasst einen aktuellen Schnappschuss
func (c *Collector) Collect() *SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := &SystemStats{
		Uptime:           time.Since(c.started).Round(time.Second).String(),
		NumCPU:           runtime.NumCPU(),
		GoRoutines:       runtime.NumGoroutine(),
		CPUUsage:         c.CPUUsage(),
		MemoryAlloc:      ms.Alloc,
		MemoryAllocHuman: FormatBytes(ms.Alloc),
		Timestamp:        time.Now().UTC(),
	}

	if c.proc != nil {
		if info, err := c.proc.MemoryInfo(); err == nil {
			stats.ProcessRSS = info.RSS
			stats.ProcessRSSHuman = FormatBytes(info.RSS)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostMemoryTotal = vm.Total
		stats.HostMemoryUsedPct = vm.UsedPercent
	}
	if c.pool != nil {
		stats.WorkerCount = c.pool.WorkerCount()
		stats.ActiveJobs = c.pool.ActiveJobCount()
		stats.QueueLength = c.pool.QueueLength()
		stats.QueueCapacity = c.pool.QueueCapacity()
	}
	return stats
}

// FormatBytes formatiert Bytes in lesbare Einheiten (KB, MB, GB)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d Bytes", bytes)
	}
	value := float64(bytes)
	for _, suffix := range []string{"KB", "MB", "GB"} {
		value /= unit
		if value < unit || suffix == "GB" {
			return fmt.Sprintf("%.2f %s", value, suffix)
		}
	}
	return fmt.Sprintf("%d Bytes", bytes)
}
