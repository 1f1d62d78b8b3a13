package ioc

import (
	"log/slog"
	"sync"

	container "github.com/golobby/container/v3"

	"github.com/openaleph/search-core/pkg/config"
	"github.com/openaleph/search-core/pkg/esclient"
)

// ContainerBuilder wraps a golobby/container instance and registers the
// handful of process-wide singletons the core needs: the resolved
// configuration (WithConfig) and, built from it, the ConnectionPool
// (WithConnectionPool). It replaces the bare
// package-level globals a naive port of the source would reach for.
type ContainerBuilder struct {
	Container container.Container
}

func NewContainerBuilder() *ContainerBuilder {
	c := container.New()

	b := &ContainerBuilder{Container: c}

	if err := c.Singleton(func() container.Container { return b.Container }); err != nil {
		slog.Error("failed to register container.Container singleton", "error", err)
		panic(err)
	}

	if err := c.Singleton(func() *ContainerBuilder { return b }); err != nil {
		slog.Error("failed to register *ContainerBuilder singleton", "error", err)
		panic(err)
	}

	return b
}

func (b *ContainerBuilder) Build() container.Container {
	return b.Container
}

// WithConfig registers a resolved config.Config as a singleton.
func (b *ContainerBuilder) WithConfig(cfg config.Config) *ContainerBuilder {
	if err := b.Container.Singleton(func() config.Config { return cfg }); err != nil {
		slog.Error("failed to register config.Config singleton", "error", err)
		panic(err)
	}
	return b
}

// WithConnectionPool registers a lazily-built *esclient.ConnectionPool
// singleton, constructed from the config.Config already registered via
// WithConfig. Resolving it more than once returns the same pool.
func (b *ContainerBuilder) WithConnectionPool() *ContainerBuilder {
	c := b.Container
	if err := c.Singleton(func() (*esclient.ConnectionPool, error) {
		var cfg config.Config
		if err := c.Resolve(&cfg); err != nil {
			slog.Error("failed to resolve config.Config for ConnectionPool", "error", err)
			return nil, err
		}
		return esclient.NewConnectionPool(esclient.Options{
			SearchURLs:     cfg.SearchURLs,
			IngestURLs:     cfg.IngestURLs,
			Username:       cfg.Username,
			Password:       cfg.Password,
			RequestTimeout: cfg.RequestTimeout,
		}), nil
	}); err != nil {
		slog.Error("failed to register *esclient.ConnectionPool singleton", "error", err)
		panic(err)
	}
	return b
}

// Resolve satisfies the Container interface by delegating to the
// underlying golobby container.
func (b *ContainerBuilder) Resolve(target interface{}) error {
	return b.Container.Resolve(target)
}

func (b *ContainerBuilder) Singleton(resolver interface{}) error {
	return b.Container.Singleton(resolver)
}

func (b *ContainerBuilder) Transient(resolver interface{}) error {
	return b.Container.Transient(resolver)
}

var (
	defaultOnce sync.Once
	defaultC    *ContainerBuilder
)

// Default returns the process's lazily-initialized container. Call sites
// that need a singleton without threading a container through every
// function signature use this; tests construct their own
// NewContainerBuilder() instead of touching the default.
func Default() *ContainerBuilder {
	defaultOnce.Do(func() {
		defaultC = NewContainerBuilder()
	})
	return defaultC
}

// ResetDefault discards the process-wide default container so tests can
// start from a clean slate.
func ResetDefault() {
	defaultOnce = sync.Once{}
	defaultC = nil
}
