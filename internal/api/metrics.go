package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics сведения о процессе и хосте для /api/server
type ServerMetrics struct {
	StartTime time.Time
}

// NewServerMetrics создает новый экземпляр метрик
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		StartTime: time.Now(),
	}
}

// GetUptime возвращает время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	return formatUptime(time.Since(sm.StartTime))
}

func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// GetMemoryUsage возвращает выделенную кучу процесса в MB
func (sm *ServerMetrics) GetMemoryUsage() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// GetCPUUsage возвращает использование CPU процессом в процентах
func (sm *ServerMetrics) GetCPUUsage() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// Если не удалось получить метрику процесса, берём системную
		cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(cpuPercents) == 0 {
			return 0, err
		}
		return cpuPercents[0], nil
	}
	return cpuPercent, nil
}

// GetSystemMemory возвращает занятую память хоста в процентах
func (sm *ServerMetrics) GetSystemMemory() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Snapshot собирает сведения для ответа /api/server.
// Ошибки gopsutil не фатальны: соответствующие поля остаются нулевыми.
func (sm *ServerMetrics) Snapshot() ServerInfo {
	info := ServerInfo{
		Uptime:     sm.GetUptime(),
		MemoryMB:   sm.GetMemoryUsage(),
		Goroutines: runtime.NumGoroutine(),
		ServerTime: time.Now().Unix(),
	}
	info.CPUPercent, _ = sm.GetCPUUsage()
	info.SystemMemoryPercent, _ = sm.GetSystemMemory()
	return info
}

// ServerInfo ответ /api/server
type ServerInfo struct {
	Uptime              string  `json:"uptime"`
	MemoryMB            float64 `json:"memory_mb"`
	CPUPercent          float64 `json:"cpu_percent"`
	SystemMemoryPercent float64 `json:"system_memory_percent"`
	Goroutines          int     `json:"goroutines"`
	ServerTime          int64   `json:"server_time"`
	InternedFacings     int     `json:"interned_facings"`
}
