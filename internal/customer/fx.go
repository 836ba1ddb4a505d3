package customer

import (
	"github.com/shiftwise/guardbill/internal/customer/repository"
	"github.com/shiftwise/guardbill/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
