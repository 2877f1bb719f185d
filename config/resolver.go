package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownProfile is returned when a requested profile name has no definition.
var ErrUnknownProfile = errors.New("unknown configuration profile")

// NormalizeName returns the canonical form of a profile name. Names are
// case-insensitive because the profiles file loader lowercases keys.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolver maps profile names to profiles. The set of profiles is fixed at
// construction; every Resolve returns an independent copy.
type Resolver struct {
	profiles map[string]Profile
}

// NewResolver creates a resolver over the given profiles
func NewResolver(profiles map[string]Profile) *Resolver {
	r := &Resolver{profiles: make(map[string]Profile, len(profiles))}
	for name, p := range profiles {
		name = NormalizeName(name)
		p = p.Clone()
		p.Name = name
		r.profiles[name] = p
	}
	return r
}

// Resolve returns the named profile or an error wrapping ErrUnknownProfile
func (r *Resolver) Resolve(name string) (Profile, error) {
	p, ok := r.profiles[NormalizeName(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p.Clone(), nil
}

// Names returns the known profile names in sorted order
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
