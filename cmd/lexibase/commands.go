package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adrianmcphee/lexibase"
	"github.com/adrianmcphee/lexibase/internal/export"
	"github.com/adrianmcphee/lexibase/internal/scheduler"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runInfo(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("info")
	fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	info, err := a.store.Info(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runMigrate(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("migrate")
	overwrite := fs.Bool("overwrite", false, "Merge into a structured store that already holds data")
	clearLegacy := fs.Bool("clear-legacy", false, "Remove the legacy blobs after a verified migration")
	fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	res := a.store.Migrate(ctx, lexibase.MigrationOptions{
		Overwrite:   *overwrite,
		ClearLegacy: *clearLegacy,
	})
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		if res.IsRefused() {
			return errors.New(res.Message)
		}
		return fmt.Errorf("migration failed: %w", res.Err)
	}
	return nil
}

func runVerify(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("verify")
	fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	v, err := a.store.VerifyMigration(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(v); err != nil {
		return err
	}
	if !v.Success {
		return lexibase.ErrMigrationVerificationMismatch
	}
	return nil
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func runExport(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("export")
	format := fs.String("format", "json", "Output format: json or sql")
	out := fs.String("o", "", "Output file (default stdout)")
	fs.Parse(args)

	if *format != "json" && *format != "sql" {
		return fmt.Errorf("unknown export format %q", *format)
	}

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	exp, err := a.store.Export(ctx)
	if err != nil {
		return err
	}

	w, err := openOutput(*out)
	if err != nil {
		return err
	}
	defer w.Close()

	if *format == "sql" {
		sql, err := export.Export(&exp.Snapshot)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, sql)
		return err
	}
	return lexibase.WriteExport(w, exp)
}

func runImport(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("import")
	in := fs.String("i", "", "Export file to import")
	fs.Parse(args)

	if *in == "" {
		return errors.New("import requires -i <file>")
	}
	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	exp, err := lexibase.ReadExport(f)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Import(ctx, exp); err != nil {
		return err
	}
	fmt.Printf("imported %d words and %d lessons\n", len(exp.Words), len(exp.Lessons))
	return nil
}

func runBackup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("backup requires a subcommand: create, auto, list, restore or delete")
	}
	sub := args[0]
	fs, configPath := commandFlags("backup " + sub)
	description := fs.String("d", "", "Backup description")
	fs.Parse(args[1:])

	var id int64
	if sub == "restore" || sub == "delete" {
		if fs.NArg() != 1 {
			return fmt.Errorf("backup %s requires a backup id", sub)
		}
		parsed, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid backup id %q", fs.Arg(0))
		}
		id = parsed
	}

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	switch sub {
	case "create":
		b, err := a.store.CreateBackup(ctx, *description)
		if err != nil {
			return err
		}
		return printJSON(b.Summary())
	case "auto":
		b, err := a.store.CreateAutoBackup(ctx)
		if err != nil {
			return err
		}
		return printJSON(b.Summary())
	case "list":
		backups, err := a.store.Backups(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTIMESTAMP\tKIND\tWORDS\tLESSONS\tDESCRIPTION")
		for _, b := range backups {
			s := b.Summary()
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n", s.ID, s.Timestamp.Format(time.RFC3339), s.Kind, s.Words, s.Lessons, s.Description)
		}
		return tw.Flush()
	case "restore":
		if err := a.store.RestoreBackup(ctx, id); err != nil {
			return err
		}
		fmt.Printf("restored backup %d\n", id)
		return nil
	case "delete":
		if err := a.store.DeleteBackup(ctx, id); err != nil {
			return err
		}
		fmt.Printf("deleted backup %d\n", id)
		return nil
	default:
		return fmt.Errorf("unknown backup subcommand %q", sub)
	}
}

func runSeed(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("seed")
	fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	seeded, err := a.store.SeedSampleData(ctx)
	if err != nil {
		return err
	}
	if seeded {
		fmt.Println("sample data loaded")
	} else {
		fmt.Println("store already has lessons, nothing loaded")
	}
	return nil
}

func runReindex(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("reindex")
	fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	counts, err := a.store.RebuildIndexes(ctx)
	if err != nil {
		return err
	}
	return printJSON(counts)
}

// runServe takes scheduled backups and exposes Prometheus metrics until
// interrupted
func runServe(ctx context.Context, args []string) error {
	fs, configPath := commandFlags("serve")
	fs.Parse(args)

	a, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.close()

	sched := scheduler.NewBackupScheduler(a.store, a.cfg.Backup.Schedule, a.logger)
	if t, _ := a.store.ActiveType(ctx); t == lexibase.StorageStructured {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		a.logger.Warn("scheduled backups need the structured store; scheduler not started")
	}

	if a.cfg.Metrics.Addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		info, err := a.store.Info(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	})

	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics", "addr", a.cfg.Metrics.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
