package directory

import (
	"go.uber.org/fx"
)

// Module provides the directory dependencies
var Module = fx.Options(
	fx.Provide(
		NewPropagator,
		fx.Annotate(
			NewMemoryStore,
			fx.As(new(Store)),
		),
	),
)
