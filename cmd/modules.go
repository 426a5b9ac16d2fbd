package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/fedhost/internal/config"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/remote"
)

var (
	modulesCheck bool
	modulesSave  bool
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List configured modules and their entry URLs",
	Long: `List the configured remote modules as JSON, with the manifest URL each
one resolves to in the selected environment.

With --check every manifest is fetched and validated, and the exposed entry
the host will mount is looked up.

Examples:
  # Show development URLs
  fedhost modules

  # Check production manifests
  fedhost modules --env production --check

  # Make production the default environment
  fedhost modules --env production --save

  # Parse specific fields with jq
  fedhost modules --check | jq '.[] | select(.error != null)'`,
	RunE: runModules,
}

func init() {
	modulesCmd.Flags().BoolVar(&modulesCheck, "check", false, "fetch and validate each manifest")
	modulesCmd.Flags().BoolVar(&modulesSave, "save", false, "write the selected environment to the config file")
	rootCmd.AddCommand(modulesCmd)
}

// moduleStatus is one row of `fedhost modules` output.
type moduleStatus struct {
	Name        string   `json:"name"`
	Scope       string   `json:"scope"`
	Expose      string   `json:"expose"`
	Environment string   `json:"environment"`
	URL         string   `json:"url,omitempty"`
	Checked     bool     `json:"checked"`
	Manifest    string   `json:"manifest,omitempty"`
	Version     string   `json:"version,omitempty"`
	Entries     []string `json:"entries,omitempty"`
	Error       *string  `json:"error"`
}

func runModules(cmd *cobra.Command, _ []string) error {
	if err := config.ValidateModules(cfg.Modules); err != nil {
		return fmt.Errorf("invalid module configuration: %w", err)
	}
	env, err := registry.ParseEnvironment(cfg.Environment)
	if err != nil {
		return err
	}

	var loader *remote.Loader
	if modulesCheck {
		loader = remote.NewLoader(remote.Config{})
	}
	statuses := checkModules(cmd.Context(), cfg.Modules, env, loader, cfg.Registry.LoadTimeout)

	if modulesSave {
		if err := config.SaveValue(configFilePath(), "environment", env.String()); err != nil {
			return fmt.Errorf("saving environment: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved environment %s to %s\n", env, configFilePath())
	}
	return writeStatuses(cmd.OutOrStdout(), statuses)
}

// checkModules resolves every module for env. When loader is non-nil each
// manifest is fetched concurrently and the module's entry looked up.
func checkModules(ctx context.Context, mods []config.ModuleConfig, env registry.Environment, loader *remote.Loader, timeout time.Duration) []moduleStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = registry.DefaultLoadTimeout
	}
	out := make([]moduleStatus, len(mods))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, m := range mods {
		st := &out[i]
		d := m.Descriptor()
		*st = moduleStatus{Name: m.Name, Scope: d.Scope, Expose: m.Expose, Environment: env.String()}

		url, err := d.Resolve(env)
		if err != nil {
			st.Error = errString(err)
			continue
		}
		st.URL = url
		if loader == nil {
			continue
		}

		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			st.Checked = true
			manifest, err := loader.Manifest(cctx, url)
			if err != nil {
				st.Error = errString(err)
				return nil
			}
			st.Manifest = manifest.Name
			st.Version = manifest.Version
			for key := range manifest.Exposes {
				st.Entries = append(st.Entries, key)
			}
			slices.Sort(st.Entries)
			if _, err := manifest.Entry(m.Expose); err != nil {
				st.Error = errString(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func errString(err error) *string {
	s := err.Error()
	return &s
}

func writeStatuses(w io.Writer, statuses []moduleStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(statuses)
}
