package main

import (
	"net/http"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/brizzai/auth-fabric/internal/authority"
	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/middleware"
	"github.com/brizzai/auth-fabric/internal/policy"
	"github.com/brizzai/auth-fabric/internal/providers"
	"github.com/brizzai/auth-fabric/internal/server"
	"github.com/brizzai/auth-fabric/internal/token"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "authority",
	Short: "The session authority of the authentication fabric",
	Long: `The session authority owns real OAuth sessions, mints short-lived
signed service tokens for the rest of the fabric, and keeps every downstream
service's local user cache current via directory propagation.`,
	Run: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
}

func runServer(cmd *cobra.Command, args []string) {
	app := fx.New(
		fx.Provide(config.Load),
		fx.Invoke(func(cfg *config.Config) error {
			return logger.InitLogger(&cfg.Logging)
		}),
		directory.Module,
		authority.Module,
		fx.Provide(newProvider),
		fx.Provide(newMux),
		fx.Provide(server.New),
		fx.Invoke(server.Hook),
	)

	app.Run()
	_ = logger.Sync()
}

// newProvider constructs the configured identity provider, or none when the
// authority runs without a linked provider (sessions created by other means).
func newProvider(cfg *config.Config) (providers.Provider, error) {
	if cfg.OAuth == nil {
		return nil, nil
	}
	return providers.New(cfg.OAuth)
}

// newMux assembles the authority's routes behind the validation middleware.
// The auth and propagation endpoints gate themselves (session cookies and
// the service secret respectively), so the route policy exempts them from
// bearer-token checks; everything else on this mux requires a valid token.
func newMux(cfg *config.Config, handler *authority.Handler) (http.Handler, error) {
	pol, err := policy.FromConfig(&cfg.Policy)
	if err != nil {
		return nil, err
	}
	rules := append(pol.Rules(),
		policy.Rule{Prefix: "/auth/"},
		policy.Rule{Prefix: "/services/"},
		policy.Rule{Prefix: "/health"},
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	verifier := middleware.NewLocalVerifier(token.NewVerifier(cfg.Auth.SigningSecret))
	auth := middleware.NewAuthenticator(policy.New(rules), verifier)
	return auth.Handler(mux), nil
}
