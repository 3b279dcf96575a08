// cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/squidsec/kalamari/internal/config"
	"github.com/squidsec/kalamari/internal/observability"
)

// Exit codes per the CLI contract.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitNetwork = 2
	ExitFinding = 3
)

// exitCodeError carries a specific exit code up through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func networkErr(err error) error { return &exitCodeError{code: ExitNetwork, err: err} }
func findingErr(err error) error { return &exitCodeError{code: ExitFinding, err: err} }

var (
	flagConfig    string
	flagUserAgent string
	flagTimeout   int
	flagInsecure  bool
	flagAuthToken string
	flagProxy     string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "kalamari",
	Short: "Headless web client for security testing",
	Long: `Kalamari fetches pages, executes JavaScript against a synthetic DOM with
XSS sensor hooks installed, and reports confirmed triggers, CSP weaknesses,
and attack-surface metadata extracted from script bundles.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagVerbose {
			cfg.Logger.Level = "debug"
		}
		observability.InitializeLogger(cfg.Logger)
		return nil
	},
}

// loadConfig resolves file + env config and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	applyGlobalFlags(cfg)
	return cfg, nil
}

// loadScanConfig starts from the security-scanning preset. With --config the
// file is loaded instead (over the plain defaults, not the preset) and only TLS
// verification is turned off; global flags apply in both cases.
func loadScanConfig() (*config.Config, error) {
	cfg := config.SecurityScanning()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		loaded.Browser.VerifyTLS = false
		cfg = loaded
	}
	applyGlobalFlags(cfg)
	return cfg, nil
}

func applyGlobalFlags(cfg *config.Config) {
	if flagUserAgent != "" {
		cfg.Browser.UserAgent = flagUserAgent
	}
	if flagInsecure {
		cfg.Browser.VerifyTLS = false
	}
	if flagAuthToken != "" {
		cfg.Browser.AuthToken = flagAuthToken
	}
	if flagProxy != "" {
		cfg.Browser.Proxy = flagProxy
	}
	if flagTimeout > 0 {
		cfg.Browser.DefaultTimeout = time.Duration(flagTimeout) * time.Second
		cfg.Page.NavigationTimeout = cfg.Browser.DefaultTimeout
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "path to a YAML config file")
	pf.StringVar(&flagUserAgent, "user-agent", "", "override the User-Agent header")
	pf.IntVar(&flagTimeout, "timeout", 0, "navigation timeout in seconds")
	pf.BoolVar(&flagInsecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&flagAuthToken, "auth-token", "", "bearer token injected into every request")
	pf.StringVar(&flagProxy, "proxy", "", "HTTP proxy URL")
	pf.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
}

// Execute runs the CLI and maps errors to the documented exit codes.
func Execute() {
	err := rootCmd.Execute()
	observability.Sync()
	if err == nil {
		os.Exit(ExitOK)
	}
	fmt.Fprintln(os.Stderr, "kalamari:", err)
	if coded, ok := err.(*exitCodeError); ok {
		os.Exit(coded.code)
	}
	os.Exit(ExitUsage)
}
