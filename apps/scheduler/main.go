package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync"
	"github.com/smallbiznis/kantoor/internal/metricspush"
	"github.com/smallbiznis/kantoor/internal/observability"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"github.com/smallbiznis/kantoor/internal/scheduler"
	"github.com/smallbiznis/kantoor/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Redis lock keeps replicas from overlapping passes.
		ratelimit.Module,
		crmsync.Module,

		// No server module, so metrics are pushed instead of scraped.
		metricspush.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
