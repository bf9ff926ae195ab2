package predict

import (
	"os"
	"strconv"
	"strings"
)

// readLoadAvg returns the 1-minute load average from /proc/loadavg, or 0 when
// it cannot be read (non-Linux hosts, restricted containers). A zero reading
// simply skips the load buffer.
func readLoadAvg() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return load
}
