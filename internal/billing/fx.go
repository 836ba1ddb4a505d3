package billing

import (
	"github.com/shiftwise/guardbill/internal/billing/dispatcher"
	"github.com/shiftwise/guardbill/internal/billing/engine"
	"github.com/shiftwise/guardbill/internal/billing/outbox"
	"github.com/shiftwise/guardbill/internal/billing/store"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(store.Provide),
	fx.Provide(store.ProvideReader),
	fx.Provide(engine.New),
	fx.Provide(outbox.New),
	dispatcher.Module,
)
