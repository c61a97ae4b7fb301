package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// officeInstallGlobs lists install locations where LibreOffice ships soffice
// outside PATH, checked in order after PATH lookup fails.
var officeInstallGlobs = []string{
	"/usr/lib/libreoffice/program/soffice",
	"/usr/lib64/libreoffice/program/soffice",
	"/opt/libreoffice*/program/soffice",
	"/snap/bin/libreoffice",
	"/Applications/LibreOffice.app/Contents/MacOS/soffice",
}

// CheckOfficeEngine reports the conversion engine the kiosk will execute.
//
// Distribution packages and the upstream tarballs often install soffice under
// a program directory that is not on PATH. When the configured command cannot
// be resolved, the well-known install locations are probed so status output
// can tell the operator which path to put in conversion.engine_binary.
func CheckOfficeEngine(command string) Status {
	command = strings.TrimSpace(command)
	result := Status{
		Name:        "LibreOffice",
		Command:     command,
		Description: "Primary document to PDF converter",
		Optional:    true,
	}
	if command == "" {
		result.Detail = "command not configured"
		return result
	}
	if resolved, err := exec.LookPath(command); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}

	for _, pattern := range officeInstallGlobs {
		matches, _ := filepath.Glob(pattern)
		for _, candidate := range matches {
			if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
				result.Detail = fmt.Sprintf("binary %q not found; installed at %s (set conversion.engine_binary)", command, candidate)
				return result
			}
		}
	}
	result.Detail = fmt.Sprintf("binary %q not found; documents will use the text fallback", command)
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
