package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-mizu/sqlmap"
	"github.com/go-mizu/sqlmap/internal/logging"
)

func newRootCommand() *cobra.Command {
	v := newViper()
	root := &cobra.Command{
		Use:           "sqlmap",
		Short:         "Run SQL through the sqlmap materializer",
		Version:       fmt.Sprintf("%s (commit: %s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("driver", "sqlite3", "database/sql driver (sqlite3, mysql, postgres, pgx)")
	pf.String("dsn", "", "data source name")
	pf.Duration("timeout", 0, "per-command timeout, 0 for none")
	pf.String("log-level", "info", "log level (debug shows plan compiles)")
	pf.String("log-format", "text", "log format (text or json)")
	pf.String("config", "", "config file (default ./.sqlmap.yaml)")
	_ = v.BindPFlags(pf)

	root.AddCommand(newQueryCommand(v), newGridCommand(v), newExecCommand(v))
	return root
}

func newQueryCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run a query and print its rows",
		Long: `Run a query and print its rows. Positional args bind to '?'
placeholders, which are rewritten for the driver. With --repeat the query
runs several times against one plan cache; --stats prints the cache
counters afterwards.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, v, func(ctx context.Context, s *sqlmap.Session, cfg *config) error {
				c := sqlmap.SQL(args[0], params(args[1:])...)
				var recs []sqlmap.Record
				for range cfg.Repeat {
					var err error
					if recs, err = sqlmap.Query[sqlmap.Record](ctx, s, c); err != nil {
						return err
					}
				}
				w := cmd.OutOrStdout()
				printRecords(w, recs)
				if cfg.Stats {
					printStats(w, s.Mapper().Cache().Stats())
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("repeat", 1, "run the query this many times")
	cmd.Flags().Bool("stats", false, "print plan-cache statistics")
	_ = v.BindPFlags(cmd.Flags())
	return cmd
}

func newGridCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "grid <sql> [args...]",
		Short: "Run a multi-statement command and print every result set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, v, func(ctx context.Context, s *sqlmap.Session, _ *config) error {
				g, err := sqlmap.QueryMultiple(ctx, s, sqlmap.SQL(args[0], params(args[1:])...))
				if err != nil {
					return err
				}
				defer g.Close()

				w := cmd.OutOrStdout()
				for !g.Disposed() {
					index := g.Index()
					recs, err := sqlmap.Read[sqlmap.Record](g)
					if err != nil {
						return fmt.Errorf("result set %d: %w", index, err)
					}
					header.Fprintf(w, "-- result set %d\n", index)
					printRecords(w, recs)
				}
				return nil
			})
		},
	}
}

func newExecCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql> [args...]",
		Short: "Run a statement and print the affected row count",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, v, func(ctx context.Context, s *sqlmap.Session, _ *config) error {
				res, err := sqlmap.Exec(ctx, s, sqlmap.SQL(args[0], params(args[1:])...))
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d row(s) affected\n", n)
				return nil
			})
		},
	}
}

// withSession loads the config, opens the database and runs fn with a
// session configured for the driver.
func withSession(cmd *cobra.Command, v *viper.Viper, fn func(context.Context, *sqlmap.Session, *config) error) error {
	cfg, err := loadConfig(v, ".env", ".env.local")
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	s := sqlmap.New(sqlmap.FromDB(db),
		sqlmap.WithMapper(sqlmap.NewMapper()),
		sqlmap.WithLogger(logger),
		sqlmap.WithPlaceholder(sqlmap.PlaceholderFor(cfg.Driver)),
		sqlmap.WithTimeout(cfg.Timeout),
	)
	return fn(ctx, s, cfg)
}

func params(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
