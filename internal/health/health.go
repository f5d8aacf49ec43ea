// Package health reports whether the host can run scripts in the
// configured mode.  It backs the doctor subcommand.
package health

import (
	"encoding/json"
	"io"
	"os/exec"
	"runtime"
	"time"

	"github.com/terrpan/tsrunner/internal/buildinfo"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Binaries are the executables probed on PATH.
var Binaries = []string{"bun", "node", "npm"}

// Probe is the result of looking up one executable.
type Probe struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Required  bool   `json:"required"`
}

// Response is the doctor report.
type Response struct {
	Status       string    `json:"status"`
	ServiceName  string    `json:"service_name"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	GoVersion    string    `json:"go_version"`
	OS           string    `json:"os"`
	Architecture string    `json:"architecture"`
	Mode         string    `json:"mode"`
	Executor     string    `json:"executor"`
	Probes       []Probe   `json:"probes"`
	Timestamp    time.Time `json:"timestamp"`
}

// Options selects what Collect checks.
type Options struct {
	Mode     string
	Executor string

	// LookPath resolves executables.  Defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Required returns the executables a run needs on PATH.  In node mode
// bun is installed on demand, so only node and npm are required.  The
// docker executor brings its own runtime.
func Required(mode, executor string) []string {
	if executor == "docker" {
		return nil
	}
	if mode == "bun" {
		return []string{"bun"}
	}
	return []string{"node", "npm"}
}

// Collect probes the host and builds a Response.  The status is
// "healthy" when every required executable was found.
func Collect(opts Options) Response {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	required := make(map[string]bool)
	for _, name := range Required(opts.Mode, opts.Executor) {
		required[name] = true
	}

	status := StatusHealthy
	probes := make([]Probe, 0, len(Binaries))
	for _, name := range Binaries {
		p := Probe{Name: name, Required: required[name]}
		if path, err := lookPath(name); err == nil {
			p.Path = path
			p.Available = true
		}
		if p.Required && !p.Available {
			status = StatusDegraded
		}
		probes = append(probes, p)
	}

	return Response{
		Status:       status,
		ServiceName:  "tsrunner",
		Version:      buildinfo.Version,
		Commit:       buildinfo.Commit,
		BuildTime:    buildinfo.BuildTime,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		Mode:         opts.Mode,
		Executor:     opts.Executor,
		Probes:       probes,
		Timestamp:    time.Now().UTC(),
	}
}

// Write encodes r as indented JSON.
func Write(w io.Writer, r Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
