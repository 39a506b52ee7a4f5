//go:build wireinject
// +build wireinject

package app

// This file documents the dependency graph app.New assembles, in the form google/wire's
// injector generator expects, for whoever next regenerates wire_gen.go with it. This tree has no
// generated wire_gen.go committed: app.New in app.go is a hand-written equivalent, kept in sync
// with this file by hand rather than by running `wire`.

import (
	"context"

	"github.com/google/wire"

	"github.com/buildbeaver/buildbeaver/common/logger"
)

func InitializeServer(ctx context.Context, config *ServerConfig, collaborators Collaborators, logFactory logger.LogFactory) (*Server, func(), error) {
	wire.Build(New)
	return nil, nil, nil
}
