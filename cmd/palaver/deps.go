// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/holomush/palaver/internal/observability"
	"github.com/holomush/palaver/internal/poll"
)

// ServerDeps contains injectable dependencies for the server command.
// All fields with nil values will use their default implementations.
type ServerDeps struct {
	// RepositoryFactory opens poll storage for databaseURL. The returned
	// function releases it.
	// Default: postgres.Repository over a pgx pool, or MemoryRepository
	// when databaseURL is empty.
	RepositoryFactory func(ctx context.Context, databaseURL string) (poll.Repository, func(), error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer

	// Ready is called with the bound API address once the server accepts
	// connections.
	Ready func(addr string)
}

// AutoMigrator is the subset of store.Migrator used at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
