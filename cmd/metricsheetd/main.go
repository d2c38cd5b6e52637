// metricsheetd serves a live sheet of named decimal metrics indexed by
// calendar period.
//
// Usage:
//
//	metricsheetd serve
//	metricsheetd import --file cells.csv
//	metricsheetd show --file cells.csv
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/metricsheet/metricsheet/internal/alerts"
	"github.com/metricsheet/metricsheet/internal/api"
	"github.com/metricsheet/metricsheet/internal/auth"
	"github.com/metricsheet/metricsheet/internal/board"
	"github.com/metricsheet/metricsheet/internal/config"
	"github.com/metricsheet/metricsheet/internal/history"
	"github.com/metricsheet/metricsheet/internal/ingest"
	"github.com/metricsheet/metricsheet/internal/ws"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "metricsheetd",
		Usage:   "periodic metric sheet with derived metrics, rollups and live updates",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to config file",
				EnvVars: []string{"METRICSHEET_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"METRICSHEET_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			importCommand(),
			showCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(c *cli.Context) {
	level := slog.LevelInfo
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// buildBoard assembles the live table and its history store from cfg.
func buildBoard(cfg *config.Config) (*board.Board, history.Store, error) {
	tableCfg, err := cfg.TableConfig()
	if err != nil {
		return nil, nil, err
	}
	table, err := sheet.NewSubscribable(tableCfg, nil)
	if err != nil {
		return nil, nil, err
	}
	hist, err := history.Open(cfg.History)
	if err != nil {
		return nil, nil, err
	}
	return board.New(table, hist), hist, nil
}

// --- serve ------------------------------------------------------------------

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP and WebSocket server",
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	initLogging(c)
	configPath := c.String("config")
	slog.Info("metricsheetd starting", "config", configPath, "version", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"listen", cfg.Server.Listen,
		"metrics", len(cfg.Sheet.Metrics),
		"sources", len(cfg.Sources),
		"history_driver", cfg.History.Driver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, hist, err := buildBoard(cfg)
	if err != nil {
		return err
	}
	defer hist.Close()

	// Alerts engine — evaluates rules on every applied batch.
	engine, err := alerts.New(cfg.Alerts, cfg.MetricNames())
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	b.OnApply(engine.Evaluate)

	// WebSocket hub — pushes applied batches to connected clients.
	hub := ws.New(b)
	b.OnApply(hub.Publish)
	go hub.Run(ctx)

	// Pollers for the configured sources.
	runner := ingest.NewRunner(b)
	for _, src := range cfg.Sources {
		s, err := ingest.New(src)
		if err != nil {
			return err
		}
		runner.Add(s, src.Interval)
	}
	go runner.Run(ctx)

	// Rebuild the table when the config file changes on disk.
	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			tableCfg, err := next.TableConfig()
			if err != nil {
				slog.Error("config reload: table rebuild failed", "err", err)
				return
			}
			if err := b.Reload(tableCfg); err != nil {
				slog.Error("config reload failed", "err", err)
				return
			}
			slog.Info("config reloaded", "metrics", len(next.Sheet.Metrics))
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API + WebSocket hub. Everything except
	// the health probe sits behind the API key check.
	guard := auth.New(cfg.Server.Auth.Key(), cfg.Server.Auth.EffectiveHeader())
	apiHandler := api.New(b, hist, engine)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/healthz", apiHandler)
	mux.Handle("/api/v1/", guard.Wrap(apiHandler))
	mux.Handle("/ws", guard.Wrap(hub))

	httpSrv := &http.Server{Addr: cfg.Server.Listen, Handler: mux}
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Listen, "auth", !guard.Disabled())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("metricsheetd shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
	return nil
}

// --- import -----------------------------------------------------------------

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Apply a CSV of raw cells as one batch and record it to history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "path to CSV with header metric,period,value",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "source",
				Value: "import",
				Usage: "source label recorded with the batch",
			},
		},
		Action: runImport,
	}
}

func runImport(c *cli.Context) error {
	initLogging(c)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	b, hist, err := buildBoard(cfg)
	if err != nil {
		return err
	}
	defer hist.Close()

	f, err := os.Open(c.String("file"))
	if err != nil {
		return err
	}
	defer f.Close()

	writes, err := ingest.ParseCSV(f)
	if err != nil {
		return err
	}
	batch, err := b.Apply(context.Background(), c.String("source"), writes)
	if err != nil {
		return err
	}

	fmt.Printf("applied %d writes, %d cells changed (batch %s)\n",
		len(writes), len(batch.Changes), batch.ID)
	return nil
}

// --- show -------------------------------------------------------------------

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Compute a CSV of raw cells offline and print the resulting grid",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "path to CSV with header metric,period,value",
			},
		},
		Action: runShow,
	}
}

func runShow(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tableCfg, err := cfg.TableConfig()
	if err != nil {
		return err
	}
	table, err := sheet.New(tableCfg, nil)
	if err != nil {
		return err
	}

	if file := c.String("file"); file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		writes, err := ingest.ParseCSV(f)
		if err != nil {
			return err
		}
		if _, err := table.Update(writes); err != nil {
			return err
		}
	}

	return renderGrid(os.Stdout, table)
}

// renderGrid prints metrics as rows and periods as columns, with "-"
// marking absent cells.
func renderGrid(w io.Writer, table *sheet.Table) error {
	periods := table.Periods()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "METRIC")
	for _, p := range periods {
		fmt.Fprintf(tw, "\t%s", p.Key())
	}
	fmt.Fprintln(tw)

	for _, metric := range table.Metrics() {
		fmt.Fprint(tw, metric)
		for _, p := range periods {
			v, err := table.Value(metric, p)
			if err != nil {
				return err
			}
			if v.Valid {
				fmt.Fprintf(tw, "\t%s", v.Decimal)
			} else {
				fmt.Fprint(tw, "\t-")
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
