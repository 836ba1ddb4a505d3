package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shiftwise/guardbill/internal/billing"
	"github.com/shiftwise/guardbill/internal/clock"
	"github.com/shiftwise/guardbill/internal/config"
	"github.com/shiftwise/guardbill/internal/customer"
	"github.com/shiftwise/guardbill/internal/logger"
	"github.com/shiftwise/guardbill/internal/migration"
	"github.com/shiftwise/guardbill/internal/observability/metrics"
	"github.com/shiftwise/guardbill/internal/server"
	"github.com/shiftwise/guardbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		metrics.Module,

		// Functional domains
		customer.Module,
		billing.Module,
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
