package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	configAPIVersion = "secmon.openctem.io/v1"
	configKind       = "Config"
)

// Config is the on-disk CLI configuration: named contexts, each pointing at
// one secmon API and one tenant.
type Config struct {
	APIVersion     string         `yaml:"apiVersion"`
	Kind           string         `yaml:"kind"`
	CurrentContext string         `yaml:"current-context"`
	Contexts       []NamedContext `yaml:"contexts"`
}

type NamedContext struct {
	Name    string        `yaml:"name"`
	Context ContextDetail `yaml:"context"`
}

type ContextDetail struct {
	APIURL   string `yaml:"api-url"`
	TenantID string `yaml:"tenant-id"`
}

func (c *Config) index(name string) int {
	return slices.IndexFunc(c.Contexts, func(nc NamedContext) bool { return nc.Name == name })
}

// GetContext returns nil when name is unknown.
func (c *Config) GetContext(name string) *NamedContext {
	if i := c.index(name); i >= 0 {
		return &c.Contexts[i]
	}
	return nil
}

// SetContext adds name or replaces its detail.
func (c *Config) SetContext(name string, d ContextDetail) {
	if i := c.index(name); i >= 0 {
		c.Contexts[i].Context = d
		return
	}
	c.Contexts = append(c.Contexts, NamedContext{Name: name, Context: d})
}

// DeleteContext removes name, clearing the current context if it was name.
func (c *Config) DeleteContext(name string) bool {
	i := c.index(name)
	if i < 0 {
		return false
	}
	c.Contexts = slices.Delete(c.Contexts, i, i+1)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return true
}

// configPath is $SECMON_CONFIG or ~/.secmon/config.yaml.
func configPath() string {
	if p := os.Getenv("SECMON_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".secmon", "config.yaml")
}

func loadConfig() (*Config, error) {
	data, err := os.ReadFile(configPath())
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath(), err)
	}
	return &cfg, nil
}

// loadOrEmptyConfig treats a missing file as an empty configuration.
func loadOrEmptyConfig() (*Config, error) {
	cfg, err := loadConfig()
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// saveConfig writes the file with owner-only permissions; it holds tenant ids.
func saveConfig(cfg *Config) error {
	cfg.APIVersion = configAPIVersion
	cfg.Kind = configKind

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI contexts (API URL + tenant)",
}

func init() {
	configCmd.AddCommand(
		newSetContextCmd(),
		newUseContextCmd(),
		newDeleteContextCmd(),
		newGetContextsCmd(),
		newViewConfigCmd(),
	)
}

func newSetContextCmd() *cobra.Command {
	var apiURL, tenantID string
	c := &cobra.Command{
		Use:     "set-context NAME",
		Short:   "Create or update a context",
		Example: "  secmon-admin config set-context prod --api-url https://secmon.example.com --tenant 6f1c...",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if apiURL == "" {
				return errors.New("--api-url is required")
			}
			if err := uuid.Validate(tenantID); err != nil {
				return fmt.Errorf("--tenant must be a UUID: %w", err)
			}

			cfg, err := loadOrEmptyConfig()
			if err != nil {
				return err
			}
			cfg.SetContext(name, ContextDetail{APIURL: apiURL, TenantID: tenantID})
			if cfg.CurrentContext == "" {
				cfg.CurrentContext = name
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Context %q set.\n", name)
			if cfg.CurrentContext == name {
				fmt.Fprintf(out, "Current context is %q.\n", name)
			}
			return nil
		},
	}
	c.Flags().StringVar(&apiURL, "api-url", "", "secmon API base URL")
	c.Flags().StringVar(&tenantID, "tenant", "", "tenant id (UUID)")
	return c
}

func newUseContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context NAME",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			if cfg.GetContext(args[0]) == nil {
				return fmt.Errorf("context %q not found", args[0])
			}
			cfg.CurrentContext = args[0]
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
			return nil
		},
	}
}

func newDeleteContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context NAME",
		Short: "Remove a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			if !cfg.DeleteContext(args[0]) {
				return fmt.Errorf("context %q not found", args[0])
			}
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted context %q.\n", args[0])
			return nil
		},
	}
}

func newGetContextsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List contexts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}

			out := cmd.OutOrStdout()
			if done, err := printStructured(out, cfg.Contexts); done {
				return err
			}
			t := newTable(out, "CURRENT", "NAME", "API-URL", "TENANT")
			for _, nc := range cfg.Contexts {
				marker := ""
				if nc.Name == cfg.CurrentContext {
					marker = "*"
				}
				t.AddRow(marker, nc.Name, nc.Context.APIURL, nc.Context.TenantID)
			}
			t.Flush()
			return nil
		},
	}
}

func newViewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			if flagOutput == outputJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			return printYAML(cmd.OutOrStdout(), cfg)
		},
	}
}
