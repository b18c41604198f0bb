package buildinfo

import "runtime/debug"

var (
	version = "dev"
	commit  = ""
)

// SetVersion allows build scripts to override the CLI version information.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// Version returns the semantic version or module version associated with the build.
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Commit returns the abbreviated VCS revision, with a "+dirty" suffix for
// modified trees, or "" when the binary was built without VCS stamping.
func Commit() string {
	if commit != "" {
		return commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev
}
