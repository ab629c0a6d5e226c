package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync"
	"github.com/smallbiznis/kantoor/internal/document"
	"github.com/smallbiznis/kantoor/internal/migration"
	"github.com/smallbiznis/kantoor/internal/numbering"
	"github.com/smallbiznis/kantoor/internal/observability"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"github.com/smallbiznis/kantoor/internal/scheduler"
	"github.com/smallbiznis/kantoor/internal/server"
	"github.com/smallbiznis/kantoor/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,

		// Functional Domains
		numbering.Module,
		document.Module,
		crmsync.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
