package cache

import "strings"

// Role is the semantic role of a cache generation.
type Role string

const (
	RoleStatic  Role = "static"
	RoleRuntime Role = "runtime"
)

// Names derives the current generation names from a namespace and a version.
// Generation names look like `cv-optimizer-static-v1.0.0`.
type Names struct {
	Namespace string
	Version   string
}

func (n Names) For(role Role) string {
	return n.Namespace + string(role) + "-" + n.Version
}

func (n Names) Static() string {
	return n.For(RoleStatic)
}

func (n Names) Runtime() string {
	return n.For(RoleRuntime)
}

// Current returns the allow-list: the generation names in use by this version.
func (n Names) Current() []string {
	return []string{n.Static(), n.Runtime()}
}

// Stale reports whether the generation is owned by this namespace
// but is not one of the current generations.
func (n Names) Stale(name string) bool {
	return strings.HasPrefix(name, n.Namespace) &&
		name != n.Static() &&
		name != n.Runtime()
}
