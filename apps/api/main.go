package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kantoor/internal/clock"
	"github.com/smallbiznis/kantoor/internal/config"
	"github.com/smallbiznis/kantoor/internal/crmsync"
	"github.com/smallbiznis/kantoor/internal/document"
	"github.com/smallbiznis/kantoor/internal/numbering"
	"github.com/smallbiznis/kantoor/internal/observability"
	"github.com/smallbiznis/kantoor/internal/ratelimit"
	"github.com/smallbiznis/kantoor/internal/server"
	"github.com/smallbiznis/kantoor/pkg/db"
	"go.uber.org/fx"
)

// The API binary serves HTTP only. Scheduled syncs come from the scheduler
// binary or from POST /api/cron/clickup-sync.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		numbering.Module,
		document.Module,
		crmsync.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
