package osutil

import "github.com/shirou/gopsutil/v4/process"

// IsProcessAlive checks if a process with the given PID is still running
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	found, _ := process.PidExists(int32(pid))
	return found
}
