package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/authorization"
	"github.com/smallbiznis/creditline/internal/cache"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/config"
	"github.com/smallbiznis/creditline/internal/credits"
	"github.com/smallbiznis/creditline/internal/ledger"
	"github.com/smallbiznis/creditline/internal/licensepool"
	"github.com/smallbiznis/creditline/internal/licensetier"
	"github.com/smallbiznis/creditline/internal/limits"
	"github.com/smallbiznis/creditline/internal/metering"
	"github.com/smallbiznis/creditline/internal/migration"
	"github.com/smallbiznis/creditline/internal/observability"
	"github.com/smallbiznis/creditline/internal/pricing"
	"github.com/smallbiznis/creditline/internal/ratelimit"
	"github.com/smallbiznis/creditline/internal/scheduler"
	"github.com/smallbiznis/creditline/internal/server"
	"github.com/smallbiznis/creditline/internal/subscription"
	"github.com/smallbiznis/creditline/internal/tenant"
	"github.com/smallbiznis/creditline/internal/user"
	"github.com/smallbiznis/creditline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,
		authorization.Module,

		// Functional Domains
		tenant.Module,
		licensetier.Module,
		user.Module,
		licensepool.Module,
		ledger.Module,
		subscription.Module,
		pricing.Module,
		credits.Module,
		limits.Module,
		metering.Module,

		scheduler.Module,
		server.Module,
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
