package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nutsdispatch/internal/buildinfo"
	"nutsdispatch/internal/config"
	"nutsdispatch/internal/dispatch"
	"nutsdispatch/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cli carries the viper instance shared by one command tree.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:   "nutsctl",
		Short: "Plan inspector visits to utility works",
		Long: `nutsctl computes the daily dispatch plan for utility-works inspectors.
- plan: who visits which works on a date, route order, unassigned visits and closure follow-ups.
- week: plan totals for consecutive dates.
- impact: neighbourhood impact of a postcode.
- migrate: create or upgrade the SQL schema.
Store, config and fixtures come from flags or NUTS_* environment variables.`,
		SilenceUsage: true,
	}
	c.v.SetEnvPrefix("NUTS")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	pf := root.PersistentFlags()
	pf.String("config", "", "path to nutsdispatch.yml")
	pf.String("driver", "", "store driver: memory, sqlite or pgx (overrides config)")
	pf.String("dsn", "", "store DSN or SQLite file (overrides config)")
	pf.String("fixtures", "", "YAML fixtures loaded into the store")
	pf.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "driver", "dsn", "fixtures", "json"} {
		_ = c.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(c.planCmd())
	root.AddCommand(c.weekCmd())
	root.AddCommand(c.impactCmd())
	root.AddCommand(c.migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if d := c.v.GetString("driver"); d != "" {
		cfg.Store.Driver = d
	}
	if dsn := c.v.GetString("dsn"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if f := c.v.GetString("fixtures"); f != "" {
		cfg.Store.Fixtures = f
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *cli) withService(ctx context.Context, fn func(context.Context, store.Store, *dispatch.Service) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Connect(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Fixtures)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st, dispatch.NewService(st, st, cfg.SchedulerOptions()))
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "memory" {
				return fmt.Errorf("migrate needs --driver sqlite or pgx")
			}
			var s *store.SQL
			if cfg.Store.Driver == "sqlite" && !strings.HasPrefix(cfg.Store.DSN, "file:") {
				s, err = store.OpenSQLite(cmd.Context(), cfg.Store.DSN)
			} else {
				s, err = store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
			}
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(header)
	return tw
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
