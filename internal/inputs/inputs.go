// Package inputs resolves the per-invocation inputs of a run: the
// script, its packages and the runtime switches.  Values come from CLI
// flags first and the CI host's INPUT_<NAME> variables second.
package inputs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Input names as declared by the action.
const (
	NameScript      = "script"
	NamePackages    = "packages"
	NameAutoInstall = "auto_install"
	NameSilent      = "silent"
	NameBun         = "bun"
	NameZx          = "zx"
	NameDebug       = "debug"
)

// ErrMissingInput is returned when a required input is empty.
var ErrMissingInput = errors.New("input required and not supplied")

var packageSeparator = regexp.MustCompile(`[,\s]+`)

// Inputs is the immutable configuration of one invocation.
type Inputs struct {
	Script      string
	Packages    []string
	AutoInstall bool
	Silent      bool
	Bun         bool
	Zx          bool
	Debug       bool
}

// flagNames maps input names to their CLI flag.
var flagNames = map[string]string{
	NameScript:      "script",
	NamePackages:    "packages",
	NameAutoInstall: "auto-install",
	NameSilent:      "silent",
	NameBun:         "bun",
	NameZx:          "zx",
	NameDebug:       "debug",
}

// RegisterFlags adds one flag per input to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(flagNames[NameScript], "", "Script source to execute (env: INPUT_SCRIPT)")
	fs.String(flagNames[NamePackages], "", "Packages to install, newline, comma or space separated (env: INPUT_PACKAGES)")
	fs.Bool(flagNames[NameAutoInstall], false, "Let bun resolve packages on first run instead of installing them (env: INPUT_AUTO_INSTALL)")
	fs.Bool(flagNames[NameSilent], false, "Do not stream install and script output (env: INPUT_SILENT)")
	fs.Bool(flagNames[NameBun], false, "Run the script with bun instead of tsx (env: INPUT_BUN)")
	fs.Bool(flagNames[NameZx], false, "Import zx globals into the script (env: INPUT_ZX)")
	fs.Bool(flagNames[NameDebug], false, "Verbose output (env: INPUT_DEBUG)")
}

// Resolve reads every input.  fs may be nil, in which case only the
// environment is consulted.  It fails with ErrMissingInput when no
// script is given.
func Resolve(fs *pflag.FlagSet) (Inputs, error) {
	v := viper.New()
	v.SetEnvPrefix("INPUT")
	v.AutomaticEnv()

	if fs != nil {
		for name, flag := range flagNames {
			if f := fs.Lookup(flag); f != nil {
				if err := v.BindPFlag(name, f); err != nil {
					return Inputs{}, fmt.Errorf("binding flag --%s: %w", flag, err)
				}
			}
		}
	}

	in := Inputs{
		Script:      strings.TrimSpace(v.GetString(NameScript)),
		Packages:    ParsePackages(v.GetString(NamePackages)),
		AutoInstall: v.GetBool(NameAutoInstall),
		Silent:      v.GetBool(NameSilent),
		Bun:         v.GetBool(NameBun),
		Zx:          v.GetBool(NameZx),
		Debug:       v.GetBool(NameDebug),
	}

	if in.Script == "" {
		return Inputs{}, fmt.Errorf("%w: %s", ErrMissingInput, NameScript)
	}
	return in, nil
}

// ParsePackages reads a multiline input: one package per line, blank
// lines dropped.  A single line may hold several packages separated by
// commas or whitespace.
func ParsePackages(raw string) []string {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != 1 {
		return lines
	}

	var pkgs []string
	for _, p := range packageSeparator.Split(lines[0], -1) {
		if p != "" {
			pkgs = append(pkgs, p)
		}
	}
	return pkgs
}

// WithBunForced returns a copy with bun selected and zx disabled, as
// required when bun is provided by the surrounding workflow.
func (in Inputs) WithBunForced() Inputs {
	in.Bun = true
	in.Zx = false
	in.Packages = append([]string(nil), in.Packages...)
	return in
}
