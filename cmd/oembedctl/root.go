package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/admin"
	"github.com/ferro-labs/oembed-filter/internal/catalog"
	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/ferro-labs/oembed-filter/internal/version"
	"github.com/ferro-labs/oembed-filter/plugin"
	"github.com/ferro-labs/oembed-filter/providers"
	"github.com/spf13/cobra"
)

type options struct {
	config      string
	storeDriver string
	storeDSN    string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "oembedctl",
		Short:         "oEmbed filter command line tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}
	root.PersistentFlags().StringVarP(&opts.config, "config", "c", os.Getenv("OEMBED_CONFIG"), "config file (JSON, JSONC or YAML)")
	root.PersistentFlags().StringVar(&opts.storeDriver, "store-driver", "", "provider store driver (memory, sqlite, postgres)")
	root.PersistentFlags().StringVar(&opts.storeDSN, "store-dsn", "", "provider store DSN")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newValidateCmd(),
		newProvidersCmd(opts),
		newFilterCmd(opts),
		newRefreshCmd(opts),
		newPluginsCmd(),
		newVersionCmd(),
	)
	return root
}

func (o *options) load() (oembedfilter.Config, error) {
	cfg := oembedfilter.DefaultConfig()
	if o.config != "" {
		loaded, err := oembedfilter.LoadConfig(o.config)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if o.storeDriver != "" {
		cfg.Store.Driver = o.storeDriver
	}
	if o.storeDSN != "" {
		cfg.Store.DSN = o.storeDSN
	}
	if err := oembedfilter.ValidateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured store. Commands that change providers
// refuse the memory store since nothing would persist.
func openStore(cfg oembedfilter.Config, persistent bool) (admin.ProviderStore, func() error, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		if persistent {
			return nil, nil, errors.New("this command needs a persistent store; set store.driver or --store-driver")
		}
		return admin.NewMemoryStore(), func() error { return nil }, nil
	}
	s, err := admin.OpenSQLStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a filter configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := oembedfilter.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := oembedfilter.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Config is valid")
			fmt.Fprintf(out, "  Lazyload:  %t\n", bool(cfg.Lazyload))
			driver := cfg.Store.Driver
			if driver == "" {
				driver = "memory"
			}
			fmt.Fprintf(out, "  Store:     %s\n", driver)
			fmt.Fprintf(out, "  Cache:     %s\n", cfg.Cache.Backend)
			if cfg.Catalog.Schedule != "" {
				fmt.Fprintf(out, "  Refresh:   %s\n", cfg.Catalog.Schedule)
			}
			if len(cfg.LocalProviders) > 0 {
				names := make([]string, 0, len(cfg.LocalProviders))
				for _, p := range cfg.LocalProviders {
					names = append(names, p.Name)
				}
				fmt.Fprintf(out, "  Providers: %s\n", strings.Join(names, ", "))
			}
			if len(cfg.Plugins) > 0 {
				var pluginNames []string
				for _, p := range cfg.Plugins {
					status := "disabled"
					if p.Enabled {
						status = "enabled"
					}
					pluginNames = append(pluginNames, fmt.Sprintf("%s (%s)", p.Name, status))
				}
				fmt.Fprintf(out, "  Plugins:   %s\n", strings.Join(pluginNames, ", "))
			}
			return nil
		},
	}
}

func newProvidersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List, enable and disable stored providers",
	}

	var source, search string
	var enabledOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			q := admin.ProviderQuery{Search: search}
			if strings.Contains(source, "::") {
				q.Source = source
			} else {
				q.SourceType = source
			}
			if enabledOnly {
				q.Enabled = &enabledOnly
			}
			found, err := store.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printProviders(cmd.OutOrStdout(), found)
		},
	}
	list.Flags().StringVar(&source, "source", "", "source type (download, local, plugin) or full source")
	list.Flags().StringVarP(&search, "search", "q", "", "name substring")
	list.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled providers")

	cmd.AddCommand(list, newSetEnabledCmd(opts, true), newSetEnabledCmd(opts, false))
	return cmd
}

func newSetEnabledCmd(opts *options, enabled bool) *cobra.Command {
	use, verb := "disable", "Disable"
	if enabled {
		use, verb = "enable", "Enable"
	}
	return &cobra.Command{
		Use:   use + " <pid>...",
		Short: verb + " stored providers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			for _, arg := range args {
				pid, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || pid <= 0 {
					return fmt.Errorf("invalid provider id %q", arg)
				}
				p, err := store.SetEnabled(cmd.Context(), pid, enabled)
				if err != nil {
					return fmt.Errorf("provider %d: %w", pid, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd %s (%d)\n", verb, p.Name, p.ID)
			}
			return nil
		},
	}
}

func printProviders(w io.Writer, list []providers.Provider) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tSOURCE\tENABLED")
	for _, p := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", p.ID, p.Name, p.Source, p.Enabled)
	}
	return tw.Flush()
}

// loadFilter builds a filter with the stored providers. An empty memory
// store is seeded from the bundled catalog.
func loadFilter(ctx context.Context, cfg oembedfilter.Config) (*oembedfilter.Filter, func() error, error) {
	f, err := oembedfilter.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := f.LoadPlugins(); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("load plugins: %w", err)
	}
	store, closeStore, err := openStore(cfg, false)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	closeAll := func() error { return errors.Join(closeStore(), f.Close()) }

	for _, p := range cfg.LocalProviders {
		if p.Source == "" {
			p.Source = providers.SourceLocal
		}
		if _, err := store.Create(ctx, p); err != nil && !errors.Is(err, admin.ErrDuplicate) {
			_ = closeAll()
			return nil, nil, fmt.Errorf("add local provider %s: %w", p.Name, err)
		}
	}
	if _, err := catalog.NewRefresher(cfg.Catalog, store, f, nil).Seed(ctx); err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return f, closeAll, nil
}

func newFilterCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Replace provider links in HTML read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			f, closeFilter, err := loadFilter(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFilter() }()

			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			out, err := f.Apply(ctx, string(in))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall timeout")
	return cmd
}

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Download the provider catalog and merge it into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			res, err := catalog.NewRefresher(cfg.Catalog, store, nil, nil).Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d added, %d updated, %d removed\n",
				res.Source, res.Added, res.Updated, res.Removed)
			return nil
		},
	}
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List all registered plugins",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Fprintln(out, "No plugins registered.")
				return
			}
			fmt.Fprintln(out, "Registered plugins:")
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				p := factory()
				fmt.Fprintf(out, "  %-20s type=%s\n", name, p.Type())
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oembedctl %s\n", version.String())
		},
	}
}
