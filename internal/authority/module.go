package authority

import (
	"go.uber.org/fx"

	"github.com/brizzai/auth-fabric/internal/session"
)

// Module provides the session authority dependencies
var Module = fx.Options(
	fx.Provide(
		NewHandler,
		session.NewStore,
	),
)
