// ABOUTME: Root command for the portalctl CLI
// ABOUTME: Handles global flags, configuration, session wiring and exit codes

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/bobbytumur/portalctl/internal/client"
	"github.com/bobbytumur/portalctl/internal/config"
	"github.com/bobbytumur/portalctl/internal/logger"
	"github.com/bobbytumur/portalctl/internal/session"
	"github.com/bobbytumur/portalctl/internal/tui/pending"
)

// Exit codes
const (
	exitOK           = 0
	exitUsage        = 1
	exitAPI          = 2
	exitUnauthorized = 3
)

var (
	apiURL     string
	stateDir   string
	storeKind  string
	jsonOutput bool
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Session client for the portal backend",
	Long: `portalctl signs in to the portal backend, keeps the session fresh and
makes authenticated calls on your behalf.

Exit codes:
  0 - Success
  1 - Usage or configuration error
  2 - Backend or API error
  3 - Not logged in (run "portalctl login")

Environment Variables:
  PORTAL_API_URL     Backend URL (default: http://localhost:8000)
  PORTAL_API_PREFIX  Route prefix (default: /api/v1)
  PORTAL_STATE_DIR   Session state directory (default: ~/.config/portalctl)
  PORTAL_STORE       Session store: file, bolt or memory (default: file)
  PORTAL_ALL_PROXY   Optional ssh+socks5:// jumpbox proxy`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend API URL (overrides PORTAL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Session state directory (overrides PORTAL_STATE_DIR)")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Session store: file, bolt or memory (overrides PORTAL_STORE)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
}

// IsJSONOutput returns whether JSON output is requested
func IsJSONOutput() bool {
	return jsonOutput
}

// loadConfig reads the environment and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = config.EnsureScheme(apiURL)
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if storeKind != "" {
		cfg.Store = storeKind
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtime is one command's configured session
type runtime struct {
	cfg     *config.Config
	mgr     *session.Manager
	closers []func() error
}

func (rt *runtime) Close() {
	rt.mgr.Close()
	for _, c := range rt.closers {
		_ = c()
	}
}

// openBackend builds the session store backend named by cfg.Store
func openBackend(cfg *config.Config) (session.Backend, func() error, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return session.NewMemoryBackend(), nil, nil
	case config.StoreBolt:
		b, err := session.OpenBoltBackend(filepath.Join(cfg.StateDir, "session.db"), &bbolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return session.NewFileBackend(filepath.Join(cfg.StateDir, "session.json")), nil, nil
	}
}

// openSession loads config, configures logging and restores the session.
// reg receives the session metrics; nil keeps them private.
func openSession(reg prometheus.Registerer) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	base, err := client.NewTransport(cfg.AllProxy)
	if err != nil {
		return nil, err
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	mgr, err := session.NewManager(session.Options{
		BaseURL:       cfg.BaseURL(),
		Backend:       backend,
		BaseTransport: base,
		HTTPTimeout:   cfg.HTTPTimeout,
		Refresh: session.RefresherConfig{
			Interval: cfg.RefreshInterval,
			Margin:   cfg.RefreshMargin,
		},
		UserCacheTTL: cfg.UserCacheTTL,
		Registerer:   reg,
	})
	if err != nil {
		if closeBackend != nil {
			_ = closeBackend()
		}
		return nil, err
	}

	rt := &runtime{cfg: cfg, mgr: mgr}
	if closeBackend != nil {
		rt.closers = append(rt.closers, closeBackend)
	}
	return rt, nil
}

// withSession opens the session, runs fn and maps setup failures to exit 1
func withSession(w io.Writer, fn func(rt *runtime) int) int {
	return withSessionMetrics(w, nil, fn)
}

// withSessionMetrics is withSession with the session metrics registered on reg
func withSessionMetrics(w io.Writer, reg prometheus.Registerer, fn func(rt *runtime) int) int {
	rt, err := openSession(reg)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return exitUsage
	}
	defer rt.Close()
	return fn(rt)
}

// requireSession prints where to go next when the gate denies access
func requireSession(w io.Writer, rt *runtime) int {
	if err := rt.mgr.Gate.Require(); err != nil {
		return reportError(w, err)
	}
	return exitOK
}

// reportError prints err for the user and returns the matching exit code
func reportError(w io.Writer, err error) int {
	switch {
	case errors.Is(err, pending.ErrInterrupted):
		fmt.Fprintln(w, "Aborted.")
		return exitUsage
	case errors.Is(err, session.ErrStepUpRequired):
		fmt.Fprintln(w, "Error: two-factor verification pending. Run \"portalctl verify\".")
		return exitUnauthorized
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, session.ErrSessionExpired):
		fmt.Fprintln(w, "Error: not logged in. Run \"portalctl login\".")
		return exitUnauthorized
	case errors.Is(err, session.ErrNoPendingStepUp):
		fmt.Fprintln(w, "Error: no two-factor verification pending. Run \"portalctl login\".")
		return exitUsage
	case client.IsUnauthorized(err):
		fmt.Fprintf(w, "Error: %v\n", err)
		return exitUnauthorized
	}

	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		fmt.Fprintf(w, "Error: %s\n", authErr.Message)
		return exitAPI
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return exitAPI
}

// signalContext cancels on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// exitWith runs a command body and exits non-zero when it fails
func exitWith(run func(ctx context.Context) int) {
	ctx, cancel := signalContext()
	code := run(ctx)
	cancel()
	if code != exitOK {
		os.Exit(code)
	}
}
