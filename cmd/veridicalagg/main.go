// veridicalagg - ordered-set and hypothetical-set aggregate catalog
// Main entry point for the shell and batch commands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JayabrataBasu/veridicalagg/internal/cli"
	"github.com/JayabrataBasu/veridicalagg/internal/config"
	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/engine"
	"github.com/JayabrataBasu/veridicalagg/pkg/hypothetical"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

var (
	version   = cli.Version
	buildDate = "dev"
	cfgFile   string
	role      string
)

func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "veridicalagg",
		Short: "veridicalagg - an aggregate catalog with hypothetical-set ranking",
		Long: `veridicalagg defines ordinary, ordered-set and hypothetical-set
aggregates with PostgreSQL's CREATE AGGREGATE rules and evaluates
rank, dense_rank, percent_rank and cume_dist for hypothetical rows.

Start the interactive shell:
  veridicalagg

Start with a specific config file:
  veridicalagg --config /path/to/veridicalagg.yaml`,
		Run: runShell,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&role, "role", "r", "", "role to act as (default engine.default_role)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("veridicalagg %s (built %s)\n", version, buildDate)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new data directory",
		Args:  cobra.MaximumNArgs(1),
		Run:   initDataDir,
	})

	rootCmd.AddCommand(newDefineCmd(), newRankCmd(), newImportCmd(), newMetricsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session holds what every command needs.
type session struct {
	cfg  *config.Config
	log  *logger.Logger
	eng  *engine.Engine
	role string
}

func openSession() (*session, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, fmt.Errorf("error initializing logger: %w", err)
	}

	if err := config.ValidateDataDir(cfg.Catalog.DataDir); err != nil {
		log.Error("Data directory validation failed", "error", err)
		return nil, fmt.Errorf("%w\nRun 'veridicalagg init' to create a data directory", err)
	}

	eng, err := engine.New(cfg, log)
	if err != nil {
		return nil, err
	}

	r := role
	if r == "" {
		r = cfg.Engine.DefaultRole
	}
	return &session{cfg: cfg, log: log, eng: eng, role: r}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runShell(cmd *cobra.Command, args []string) {
	s, err := openSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = s.log.Sync() }()

	s.log.Info("Starting veridicalagg",
		"version", version,
		"data_dir", s.cfg.Catalog.DataDir,
		"role", s.role,
	)

	repl := cli.NewREPL(s.cfg, s.log, s.eng)
	if err := repl.Run(); err != nil {
		s.log.Error("REPL error", "error", err)
		os.Exit(1)
	}
}

func initDataDir(cmd *cobra.Command, args []string) {
	dir := "./data"
	if len(args) > 0 {
		dir = args[0]
	}

	fmt.Printf("Initializing new veridicalagg data directory in: %s\n", dir)

	if err := config.InitDataDir(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfgPath := "veridicalagg.yaml"
	if err := config.CreateDefaultConfig(cfgPath, dir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not create config file: %v\n", err)
	} else {
		fmt.Printf("Created config file: %s\n", cfgPath)
	}

	fmt.Println("Data directory initialized successfully!")
	fmt.Printf("Start the shell with: veridicalagg --config %s\n", cfgPath)
}

func newDefineCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "define -f FILE [-f FILE...]",
		Short: "Run CREATE statements from .sql files or .yaml/.json bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.log.Sync() }()

			ctx, cancel := signalContext()
			defer cancel()

			for _, path := range files {
				var results []engine.Result
				switch strings.ToLower(filepath.Ext(path)) {
				case ".yaml", ".yml", ".json":
					results, err = s.eng.LoadBundle(ctx, s.role, path)
				default:
					var data []byte
					if data, err = os.ReadFile(path); err == nil {
						results, err = s.eng.ExecDDL(ctx, s.role, string(data))
					}
				}
				for _, res := range results {
					for _, w := range res.Warnings {
						fmt.Fprintf(cmd.ErrOrStderr(), "WARNING:  %s\n", w)
					}
					fmt.Fprintln(cmd.OutOrStdout(), res.Tag)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "statement file (.sql, .yaml, .yml or .json)")
	return cmd
}

func newRankCmd() *cobra.Command {
	var (
		typeName string
		group    []string
		desc     bool
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "rank [AGGREGATE] VALUE",
		Short: "Place a hypothetical value in a group and report its rank",
		Long: `Evaluate a hypothetical-set aggregate for one value against a
single-column group. With --all the four rank-family values are printed
and no aggregate name is needed.

  veridicalagg rank analytics.my_rank 25 --type int4 --group 10,20,30
  veridicalagg rank 25 --all --group 10,20,30`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) != 2 {
				return fmt.Errorf("an aggregate name and a value are required unless --all is given")
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.log.Sync() }()

			reg := s.eng.Store().Types()
			t, err := reg.Lookup(typeName)
			if err != nil {
				return err
			}
			key := hypothetical.Asc(t.ID)
			if desc {
				key = hypothetical.Desc(t.ID)
			}
			c := hypothetical.NewAggContext(key)
			for _, text := range group {
				v, err := reg.FromAny(t.ID, text)
				if err != nil {
					return err
				}
				if err := c.Add(v); err != nil {
					return err
				}
			}
			hyp, err := reg.FromAny(t.ID, args[len(args)-1])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if all {
				results, err := s.eng.EvaluatePartitions(ctx, []hypothetical.Task{{Group: c, Args: []types.Value{hyp}}})
				if err != nil {
					return err
				}
				res := results[0]
				fmt.Fprintf(cmd.OutOrStdout(), "rank=%d dense_rank=%d percent_rank=%s cume_dist=%s\n",
					res.Rank, res.DenseRank,
					types.NewFloat8(res.PercentRank).String(), types.NewFloat8(res.CumeDist).String())
				return nil
			}

			v, err := s.eng.EvaluateHypothetical(ctx, s.role, args[0], c, []types.Value{hyp})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "int4", "type of the group column")
	cmd.Flags().StringSliceVarP(&group, "group", "g", nil, "group values, comma separated")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort the group descending")
	cmd.Flags().BoolVar(&all, "all", false, "print rank, dense_rank, percent_rank and cume_dist")
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		dsn     string
		schemas []string
		target  string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy aggregate definitions from a PostgreSQL server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.log.Sync() }()

			if dsn == "" {
				dsn = s.cfg.Import.DSN
			}
			if dsn == "" {
				return fmt.Errorf("no DSN given; use --dsn or set import.dsn")
			}
			if len(schemas) == 0 {
				schemas = s.cfg.Import.Schemas
			}
			if target == "" {
				target = s.cfg.Import.Target
			}

			ctx, cancel := signalContext()
			defer cancel()

			report, err := s.eng.ImportFromPostgres(ctx, s.role, dsn, schemas, target)
			if err != nil {
				return err
			}
			for _, name := range report.Imported {
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", name)
			}
			for name, cause := range report.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", name, cause)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (default import.dsn)")
	cmd.Flags().StringSliceVar(&schemas, "schema", nil, "schemas to read (default import.schemas)")
	cmd.Flags().StringVar(&target, "target", "", "namespace to create aggregates in (default: source schema)")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print catalog metrics in Prometheus text format",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer func() { _ = s.log.Sync() }()
			fmt.Fprint(cmd.OutOrStdout(), s.eng.System().PrometheusMetrics())
			return nil
		},
	}
}
