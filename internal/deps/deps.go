// Package deps checks the external programs and host resources a studio
// needs before it accepts sessions.
package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

// chromeCandidates are tried in order when no browser path is configured.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
}

// MinAvailableMemory is the headroom below which launching another browser
// is likely to starve the encoder.
const MinAvailableMemory = 512 << 20

// Requirement defines an external binary the studio relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if path, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
				status.Command = path
			}
		}
		results = append(results, status)
	}
	return results
}

// ResolveChrome returns configured when set, otherwise the first browser
// found on PATH. It returns "" when nothing is found.
func ResolveChrome(configured string) string {
	if strings.TrimSpace(configured) != "" {
		return strings.TrimSpace(configured)
	}
	for _, candidate := range chromeCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

// Requirements lists the binaries for the given encoder and browser paths.
// pactl is required only when page audio is routed through PulseAudio.
func Requirements(ffmpeg, chrome, pactl string, audio bool) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: ffmpeg, Description: "Encodes the captured surface and pushes RTMP"},
		{Name: "Chromium", Command: ResolveChrome(chrome), Description: "Renders the compositor page"},
		{Name: "PulseAudio", Command: pactl, Description: "Loads a sink per browser for page audio", Optional: !audio},
	}
}

// HostStatus describes memory headroom.
type HostStatus struct {
	TotalMemory     uint64
	AvailableMemory uint64
	UsedPercent     float64
	Sufficient      bool
	Detail          string
}

// CheckHost samples system memory and compares it with minAvailable.
func CheckHost(ctx context.Context, minAvailable uint64) (HostStatus, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostStatus{}, fmt.Errorf("read memory stats: %w", err)
	}
	return evaluateHost(vm, minAvailable), nil
}

func evaluateHost(vm *mem.VirtualMemoryStat, minAvailable uint64) HostStatus {
	status := HostStatus{
		TotalMemory:     vm.Total,
		AvailableMemory: vm.Available,
		UsedPercent:     vm.UsedPercent,
		Sufficient:      vm.Available >= minAvailable,
	}
	if !status.Sufficient {
		status.Detail = fmt.Sprintf("%d MiB available, %d MiB recommended", vm.Available>>20, minAvailable>>20)
	}
	return status
}
