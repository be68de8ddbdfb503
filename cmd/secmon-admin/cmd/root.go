package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"runtime"
	"slices"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL  string
	flagTenant  string
	flagContext string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "secmon-admin",
	Short: "Security monitoring administration CLI",
	Long: `secmon-admin is a kubectl-style CLI for the security monitoring API.

It starts and inspects scans, shows a tenant's security score and
reports the readiness of the server's dependencies.

Use "secmon-admin config set-context" to configure your connection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: SECMON_API_URL)")
	rootCmd.PersistentFlags().StringVarP(&flagTenant, "tenant", "t", "", "Override tenant ID (env: SECMON_TENANT_ID)")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: SECMON_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", outputTable, "Output format: table, wide, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(createCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("SECMON_API_URL")
	}
	if flagTenant == "" {
		flagTenant = os.Getenv("SECMON_TENANT_ID")
	}

	if flagAPIURL == "" || flagTenant == "" {
		u, t := resolveFromConfigFile()
		if flagAPIURL == "" {
			flagAPIURL = u
		}
		if flagTenant == "" {
			flagTenant = t
		}
	}
}

func resolveFromConfigFile() (string, string) {
	ctxName := flagContext
	if ctxName == "" {
		ctxName = os.Getenv("SECMON_CONTEXT")
	}

	cfg, err := loadConfig()
	if err != nil {
		return "", ""
	}

	if ctxName == "" {
		ctxName = cfg.CurrentContext
	}

	ctx := cfg.GetContext(ctxName)
	if ctx == nil {
		return "", ""
	}
	return ctx.Context.APIURL, ctx.Context.TenantID
}

// newClient returns a client for the resolved API URL. requireTenant is false
// for the unscoped endpoints such as /ready.
func newClient(cmd *cobra.Command, requireTenant bool) (*Client, error) {
	if flagAPIURL == "" {
		return nil, errors.New("API URL not configured. Use --api-url, SECMON_API_URL, or 'secmon-admin config set-context'")
	}
	if requireTenant && flagTenant == "" {
		return nil, errors.New("tenant not configured. Use --tenant, SECMON_TENANT_ID, or 'secmon-admin config set-context'")
	}

	var verbose io.Writer
	if flagVerbose {
		verbose = cmd.ErrOrStderr()
	}
	return NewClient(flagAPIURL, flagTenant, verbose), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "secmon-admin version %s\n", version)
		fmt.Fprintf(out, "  Go:       %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display server readiness and dependency checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd, false)
		if err != nil {
			return err
		}

		// /ready answers 503 with a body when a dependency is down.
		data, code, err := client.Do(cmd.Context(), http.MethodGet, "/ready", nil)
		if err != nil && code != http.StatusServiceUnavailable {
			return fmt.Errorf("connection failed: %w", err)
		}

		var resp ReadyResponse
		if err := unmarshal(data, &resp); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if done, err := printStructured(out, resp); done {
			return err
		}

		fmt.Fprintf(out, "API URL:  %s\n", flagAPIURL)
		fmt.Fprintf(out, "Status:   %s\n", resp.Status)
		if len(resp.Checks) > 0 {
			fmt.Fprintln(out)
			t := newTable(out, "CHECK", "STATUS", "DURATION", "ERROR")
			for _, name := range slices.Sorted(maps.Keys(resp.Checks)) {
				c := resp.Checks[name]
				t.AddRow(name, c.Status, orDash(c.Duration), orDash(c.Error))
			}
			t.Flush()
		}
		return nil
	},
}
