package prescription

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultProfileName names the profile present in a fresh collection.
const DefaultProfileName = "Default"

var (
	// ErrProfileNotFound is returned for lookups of unknown profile names.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrDeleteActive forbids removing the active profile.
	ErrDeleteActive = errors.New("cannot delete the active profile")
	// ErrDeleteLast forbids removing the only remaining profile.
	ErrDeleteLast = errors.New("cannot delete the last profile")
)

// Collection holds profiles keyed by name with exactly one active entry.
// The zero value is not usable; construct with NewCollection or DefaultCollection.
type Collection struct {
	profiles map[string]Profile
	active   string
}

// DefaultProfile returns the profile seeded into a new collection.
func DefaultProfile() Profile {
	return Profile{
		Name:                DefaultProfileName,
		LeftEye:             EyePrescription{Sphere: -2.0},
		RightEye:            EyePrescription{Sphere: -2.0},
		PupillaryDistanceMM: 62,
	}
}

// DefaultCollection returns a collection holding only the default profile.
func DefaultCollection() *Collection {
	def := DefaultProfile()
	return &Collection{
		profiles: map[string]Profile{def.Name: def},
		active:   def.Name,
	}
}

// NewCollection validates the supplied profiles and selects the active one.
// An empty active name selects the first profile in name order.
func NewCollection(profiles []Profile, active string) (*Collection, error) {
	if len(profiles) == 0 {
		return nil, errors.New("at least one profile is required")
	}
	c := &Collection{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		p.Name = strings.TrimSpace(p.Name)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.profiles[p.Name]; dup {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		c.profiles[p.Name] = p
	}

	active = strings.TrimSpace(active)
	if active == "" {
		active = c.Names()[0]
	}
	if _, ok := c.profiles[active]; !ok {
		return nil, fmt.Errorf("active profile %q: %w", active, ErrProfileNotFound)
	}
	c.active = active
	return c, nil
}

// Put inserts a profile or replaces an existing one with the same name.
func (c *Collection) Put(p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return err
	}
	c.profiles[p.Name] = p
	return nil
}

// Delete removes a profile that is neither active nor the last one.
func (c *Collection) Delete(name string) error {
	name = strings.TrimSpace(name)
	if _, ok := c.profiles[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrProfileNotFound)
	}
	if len(c.profiles) <= 1 {
		return ErrDeleteLast
	}
	if name == c.active {
		return ErrDeleteActive
	}
	delete(c.profiles, name)
	return nil
}

// SetActive selects the profile used for correction.
func (c *Collection) SetActive(name string) error {
	name = strings.TrimSpace(name)
	if _, ok := c.profiles[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrProfileNotFound)
	}
	c.active = name
	return nil
}

// Active returns the active profile.
func (c *Collection) Active() Profile {
	return c.profiles[c.active]
}

// ActiveName returns the name of the active profile.
func (c *Collection) ActiveName() string {
	return c.active
}

// Get looks up a profile by name.
func (c *Collection) Get(name string) (Profile, bool) {
	p, ok := c.profiles[strings.TrimSpace(name)]
	return p, ok
}

// Names lists profile names in sorted order.
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many profiles are stored.
func (c *Collection) Len() int {
	return len(c.profiles)
}
