package deps

import (
	"os/exec"
	"strings"
)

// Requirement names an external binary and whether the daemon can run
// without it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after a PATH lookup. Command holds the resolved
// path when the binary was found.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// MediaTools lists the binaries frame extraction shells out to.
func MediaTools(ffmpeg, ffprobe string) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: ffmpeg, Description: "Extracts frames and scores motion"},
		{Name: "FFprobe", Command: ffprobe, Description: "Reads duration and recording metadata"},
	}
}

// CheckBinaries looks up every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	statuses := make([]Status, len(requirements))
	for i, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		statuses[i] = lookup(req)
	}
	return statuses
}

func lookup(req Requirement) Status {
	if req.Command == "" {
		return Status{Requirement: req, Detail: "command not configured"}
	}
	resolved, err := exec.LookPath(req.Command)
	if err != nil {
		return Status{Requirement: req, Detail: req.Command + " not found"}
	}
	req.Command = resolved
	return Status{Requirement: req, Available: true}
}

// FirstMissing returns the first unavailable requirement that is not optional.
func FirstMissing(statuses []Status) (Status, bool) {
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			return s, true
		}
	}
	return Status{}, false
}
