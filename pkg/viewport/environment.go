package viewport

import (
	"github.com/offlinefirst/visionfix/pkg/permissions"
)

// Environment describes viewport capture availability. Requested is the
// configured backend; Provider is the one that will actually be used.
type Environment struct {
	Requested  string
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

// Backend names accepted by the capture.backend setting.
const (
	BackendTab       = "tab"
	BackendSynthetic = "synthetic"
)

// DetectEnvironment reports which capture backend will be used for the
// requested one.
func DetectEnvironment(backend string, lookup permissions.LookupEnvFunc) Environment {
	probe := permissions.ProbeTabCapture(lookup)
	env := Environment{
		Requested:  BackendSynthetic,
		Provider:   BackendSynthetic,
		Permission: probe.StatusString(),
		Message:    probe.Message,
		Guidance:   probe.Guidance,
		Available:  true,
	}

	switch backend {
	case BackendTab:
		env.Requested = BackendTab
		env.Provider = BackendTab
		env.Available = probe.Status != permissions.StatusDenied
		if !env.Available && env.Message == "" {
			env.Message = "tab capture permission missing"
		}
	default:
		env.Permission = "not_applicable"
		env.Message = "synthetic page renderer"
		env.Guidance = ""
	}

	if !env.Available {
		env.Provider = BackendSynthetic
	}
	return env
}
