package main

import (
	"context"
	"net/http"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/directory"
	"github.com/brizzai/auth-fabric/internal/logger"
	"github.com/brizzai/auth-fabric/internal/middleware"
	"github.com/brizzai/auth-fabric/internal/policy"
	"github.com/brizzai/auth-fabric/internal/refresh"
	"github.com/brizzai/auth-fabric/internal/server"
	"github.com/brizzai/auth-fabric/internal/sso"
	"github.com/brizzai/auth-fabric/internal/token"
	"github.com/brizzai/auth-fabric/internal/utils"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "downstream",
	Short: "A reference downstream service of the authentication fabric",
	Long: `A downstream service trusts the session authority: it validates the
bearer token on every request with the shared middleware and keeps a local
user cache that the authority fills via directory propagation.`,
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
		fx.Provide(newVerifier),
		fx.Provide(newMonitor),
		fx.Provide(newMux),
		fx.Provide(server.New),
		fx.Invoke(server.Hook),
		fx.Invoke(monitorHook),
	)

	app.Run()
	_ = logger.Sync()
}

// newVerifier picks the verification strategy: services holding the shared
// signing secret check signatures locally; the rest round-trip to the
// session authority.
func newVerifier(cfg *config.Config) middleware.Verifier {
	if cfg.Auth.SigningSecret != "" {
		return middleware.NewLocalVerifier(token.NewVerifier(cfg.Auth.SigningSecret))
	}
	return middleware.NewRemoteVerifier(cfg.Auth.AuthorityURL, cfg.Auth.ServiceSecret, nil)
}

// newMonitor builds the sign-out monitor: when the authority flags an
// identity, its cached record is evicted from the local user store.
func newMonitor(cfg *config.Config, store directory.Store) *refresh.Monitor {
	return refresh.NewMonitor(cfg.Auth.AuthorityURL, 0, func(email string) {
		logger.Info("Evicting signed-out user from local cache", zap.String("email", email))
		store.Remove(email)
	})
}

// monitorHook stops the sign-out monitor's watchers on shutdown.
func monitorHook(lc fx.Lifecycle, monitor *refresh.Monitor) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			monitor.Stop()
			return nil
		},
	})
}

// newMux assembles the downstream routes behind the validation middleware.
// The injection receiver authenticates with the service secret, and health
// stays public; every other route requires a valid bearer token.
func newMux(cfg *config.Config, store directory.Store, verifier middleware.Verifier, monitor *refresh.Monitor) (http.Handler, error) {
	pol, err := policy.FromConfig(&cfg.Policy)
	if err != nil {
		return nil, err
	}
	rules := append(pol.Rules(),
		policy.Rule{Prefix: "/services/"},
		policy.Rule{Prefix: "/auth/"},
		policy.Rule{Prefix: "/health"},
	)

	mux := http.NewServeMux()
	directory.NewHandler(store, cfg.Auth.ServiceSecret).RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Silent session discovery: forward the browser's cookies to the
	// authority and hand a minted ssoToken back without any visible login.
	negotiator := sso.NewNegotiator(cfg.Auth.AuthorityURL, 0)
	mux.HandleFunc("/auth/silent-sso", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		result, err := negotiator.Negotiate(r.Context(), r.Cookies())
		if err != nil || result.RequiresLogin {
			utils.WriteJSONStatus(w, http.StatusUnauthorized, map[string]interface{}{
				"success":       false,
				"error":         "No active session",
				"requiresLogin": true,
			})
			return
		}
		utils.WriteJSON(w, map[string]interface{}{
			"success":  true,
			"ssoToken": result.Token,
		})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.IdentityFrom(r.Context())
		// Anonymous requests reach here when an operator exempts /api in
		// the policy file.
		if identity == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		record, cached := store.Get(identity.Email)
		utils.WriteJSON(w, map[string]interface{}{
			"identity": identity,
			"cached":   cached,
			"profile":  record,
		})
	})

	// Every authenticated identity gets a sign-out watcher, so a forced
	// sign-out at the authority evicts the local cache within one poll.
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity := middleware.IdentityFrom(r.Context()); identity != nil {
			monitor.Watch(identity.Email)
		}
		mux.ServeHTTP(w, r)
	})

	auth := middleware.NewAuthenticator(policy.New(rules), verifier)
	return auth.Handler(inner), nil
}
