// lexibase - vocabulary persistence and migration tool
//
// Inspect, migrate, back up and export the vocabulary data of a learner.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "info":
		err = runInfo(ctx, args)
	case "migrate":
		err = runMigrate(ctx, args)
	case "verify":
		err = runVerify(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "import":
		err = runImport(ctx, args)
	case "backup":
		err = runBackup(ctx, args)
	case "seed":
		err = runSeed(ctx, args)
	case "reindex":
		err = runReindex(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "help", "--help", "-h":
		printHelp()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`lexibase - vocabulary persistence and migration tool

Usage:
  lexibase <command> [flags]

Commands:
  info                          Show the active backend, counts and migration state
  migrate [-overwrite] [-clear-legacy]
                                Copy the legacy store into the structured store
  verify                        Compare the legacy store with the structured store
  export [-format json|sql] [-o file]
                                Export all data
  import -i file                Merge an export into the store
  backup create [-d text]       Take a manual backup
  backup auto                   Take an automatic backup and apply retention
  backup list                   List backups, newest first
  backup restore <id>           Replace live data with a backup
  backup delete <id>            Delete a backup
  seed                          Load sample lessons when the store is empty
  reindex                       Rebuild the structured store indexes
  serve                         Run scheduled backups and serve /metrics

Every command accepts -config <file>. Settings can also be given as
LEXIBASE_* environment variables, e.g. LEXIBASE_REDIS_ADDR=localhost:6379.`)
}

// commandFlags returns a flag set carrying the shared -config flag
func commandFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file (yaml, json or toml)")
	return fs, configPath
}
