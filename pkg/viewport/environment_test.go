package viewport

import "testing"

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDetectEnvironmentPopulatesFields(t *testing.T) {
	env := DetectEnvironment(BackendTab, lookupFrom(nil))
	if env.Provider != BackendTab {
		t.Fatalf("expected tab provider, got %q", env.Provider)
	}
	if env.Permission == "" {
		t.Fatalf("expected permission string")
	}
	if env.Message == "" {
		t.Fatalf("expected message")
	}
}

func TestDetectEnvironmentFallsBackWhenDenied(t *testing.T) {
	env := DetectEnvironment(BackendTab, lookupFrom(map[string]string{"VISIONFIX_TAB_CAPTURE": "denied"}))
	if env.Available {
		t.Fatalf("expected tab capture to be unavailable")
	}
	if env.Provider != BackendSynthetic {
		t.Fatalf("expected synthetic fallback, got %q", env.Provider)
	}
	if env.Requested != BackendTab {
		t.Fatalf("expected requested backend to stay tab, got %q", env.Requested)
	}
}

func TestDetectEnvironmentSynthetic(t *testing.T) {
	env := DetectEnvironment(BackendSynthetic, lookupFrom(nil))
	if env.Permission != "not_applicable" {
		t.Fatalf("unexpected permission %q", env.Permission)
	}
}
