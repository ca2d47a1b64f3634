package schedule

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// memoryLine formats current memory usage for the ticker status line.
// Returns an empty string if memory stats are unavailable.
func memoryLine() string {
	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return ""
	}

	totalGB := float64(v.Total) / 1024 / 1024 / 1024
	usedGB := float64(v.Total-v.Available) / 1024 / 1024 / 1024
	percent := (usedGB / totalGB) * 100

	return fmt.Sprintf(" │ Mem: %.1f/%.1fGB (%.0f%%)", usedGB, totalGB, percent)
}
