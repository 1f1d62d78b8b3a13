// Package ioc provides a thin wrapper over golobby/container for the
// process-wide singletons the core needs (the ConnectionPool and the
// resolved config), replacing ad-hoc module-level globals with an
// explicit, lazily-initialized container.
package ioc

// Container defines the dependency-injection surface used across the
// core. The target of Resolve must be a pointer to the type being
// resolved.
type Container interface {
	Resolve(target interface{}) error
	Singleton(resolver interface{}) error
	Transient(resolver interface{}) error
}

var _ Container = (*ContainerBuilder)(nil)
