// Package actions talks to the GitHub Actions runner through workflow
// commands on stdout and the files named by GITHUB_* variables.
package actions

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// Host is the CI host channel of one invocation.
type Host struct {
	out    io.Writer
	getenv func(string) string

	highlight lipgloss.Style
	success   lipgloss.Style

	mu     sync.Mutex
	failed bool
}

// NewHost returns a Host that writes commands to out and reads the
// runner environment through getenv (os.Getenv when nil).
func NewHost(out io.Writer, getenv func(string) string) *Host {
	if getenv == nil {
		getenv = os.Getenv
	}
	r := lipgloss.NewRenderer(out)
	return &Host{
		out:       out,
		getenv:    getenv,
		highlight: r.NewStyle().Foreground(lipgloss.Color("6")),
		success:   r.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

// Writer is where streamed process output goes.
func (h *Host) Writer() io.Writer { return h.out }

// Info writes a plain log line.
func (h *Host) Info(msg string) {
	fmt.Fprintln(h.out, msg)
}

// Debug writes a line that is only shown when step debugging is on.
func (h *Host) Debug(msg string) {
	h.command("debug", nil, msg)
}

// Warning writes a warning annotation.
func (h *Host) Warning(msg string) {
	h.command("warning", nil, msg)
}

// Highlight styles a value for log lines (cyan).
func (h *Host) Highlight(s string) string { return h.highlight.Render(s) }

// Good styles a value for log lines (green).
func (h *Host) Good(s string) string { return h.success.Render(s) }

// Group wraps the output of fn in a collapsible group.  The group is
// closed even when fn fails.
func (h *Host) Group(name string, fn func() error) error {
	h.command("group", nil, name)
	defer h.command("endgroup", nil, "")
	return fn()
}

// IsDebug reports whether the runner has step debugging enabled.
func (h *Host) IsDebug() bool {
	return h.getenv("RUNNER_DEBUG") == "1"
}

// SetOutput sets a step output.  It appends to the GITHUB_OUTPUT file
// when the runner provides one and falls back to the legacy
// set-output command otherwise.
func (h *Host) SetOutput(name, value string) error {
	path := h.getenv("GITHUB_OUTPUT")
	if path == "" {
		fmt.Fprintln(h.out)
		h.command("set-output", map[string]string{"name": name}, value)
		return nil
	}

	delimiter := "ghadelimiter_" + uuid.NewString()
	if strings.Contains(name, delimiter) || strings.Contains(value, delimiter) {
		return fmt.Errorf("output %q: value contains the delimiter %s", name, delimiter)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening output file %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter); err != nil {
		f.Close()
		return fmt.Errorf("writing output file %s: %w", path, err)
	}
	return f.Close()
}

// SetFailed writes an error annotation and marks the step failed.
func (h *Host) SetFailed(msg string) {
	h.mu.Lock()
	h.failed = true
	h.mu.Unlock()
	h.command("error", nil, msg)
}

// Failed reports whether SetFailed was called.
func (h *Host) Failed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failed
}

func (h *Host) command(name string, props map[string]string, msg string) {
	var b strings.Builder
	b.WriteString("::")
	b.WriteString(name)
	first := true
	for k, v := range props {
		if first {
			b.WriteByte(' ')
			first = false
		} else {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escapeProperty(v))
	}
	b.WriteString("::")
	b.WriteString(escapeData(msg))
	fmt.Fprintln(h.out, b.String())
}

func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

func escapeProperty(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C").Replace(s)
}
