package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"printkiosk/internal/config"
)

// Requirement defines an external dependency the kiosk relies on.
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
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// DefaultRequirements lists the external tools used by the configured kiosk.
// The spooler tools are optional while the synthetic spooler may stand in.
func DefaultRequirements(cfg *config.Config) []Requirement {
	spoolerOptional := cfg.Printing.SyntheticFallback
	return []Requirement{
		{
			Name:        "LibreOffice",
			Command:     cfg.Conversion.EngineBinary,
			Description: "Primary document to PDF converter",
			Optional:    true,
		},
		{
			Name:        "lp",
			Command:     cfg.Printing.LPBinary,
			Description: "Submits print jobs to CUPS",
			Optional:    spoolerOptional,
		},
		{
			Name:        "lpstat",
			Command:     cfg.Printing.LPStatBinary,
			Description: "Reports CUPS job progress",
			Optional:    spoolerOptional,
		},
	}
}

// Check evaluates DefaultRequirements, probing office install locations for
// the conversion engine.
func Check(cfg *config.Config) []Status {
	reqs := DefaultRequirements(cfg)
	results := CheckBinaries(reqs)
	for i, req := range reqs {
		if req.Name != "LibreOffice" || results[i].Available {
			continue
		}
		results[i] = CheckOfficeEngine(req.Command)
	}
	return results
}

// Missing returns the required dependencies that are not available.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
