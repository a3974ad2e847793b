// Command shapes indexes a database of OBJ models and answers
// content-based similarity queries against it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/shape.search/internal/db"
	"github.com/banshee-data/shape.search/internal/version"
)

// errUnknownCommand is returned by run for an unrecognised subcommand.
var errUnknownCommand = errors.New("unknown command")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUnknownCommand), errors.Is(err, db.ErrUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		log.Fatalf("shapes: %v", err)
	}
}

// run dispatches args[0] to its subcommand.
func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		printUsage(out)
		return fmt.Errorf("%w: none given", errUnknownCommand)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "serve":
		return handleServe(ctx, rest, out)
	case "index":
		return handleIndex(ctx, rest, out)
	case "query":
		return handleQuery(ctx, rest, out)
	case "evaluate":
		return handleEvaluate(ctx, rest, out)
	case "plot":
		return handlePlot(ctx, rest, out)
	case "export":
		return handleExport(ctx, rest, out)
	case "normalize":
		return handleNormalize(rest, out)
	case "migrate":
		return handleMigrate(rest, out)
	case "version":
		fmt.Fprintln(out, version.Current())
		return nil
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `shapes - content-based 3D shape retrieval

Usage: shapes <command> [options]

Commands:
  serve      Run the HTTP viewer and query API
  index      Extract descriptors for every shape and store them
  query      Rank the database against a stored shape or an OBJ file
  evaluate   Leave-one-out retrieval evaluation (precision, recall, mAP)
  plot       Plot descriptor histograms of one class as PNG files
  export     Write descriptor vectors as CSV
  normalize  Write a pose-normalised copy of an OBJ file
  migrate    Manage the database schema (up, down, status, version N, force N)
  version    Show version information
  help       Show this help message

Common Flags:
  -data <dir>      Shape database (default: Data in ., .. or ../..)
  -db <file>       SQLite descriptor store (default: shapes.db, "" disables)
  -config <file>   Tuning parameters JSON (default: config/shapes.defaults.json if present)
  -debug           Verbose logging

Examples:
  shapes index
  shapes query -id Cup/cup1.obj -k 5
  shapes query -obj mug.obj -server http://localhost:8080
  shapes query -id Cup/cup1.obj -server grpc://localhost:9090
  shapes serve -listen :8080 -grpc-listen :9090
  shapes plot -category Cup -out results/
`)
}
