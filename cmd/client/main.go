package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/coeditd/coeditd/internal/client/api"
	"github.com/coeditd/coeditd/internal/client/cli"
	"github.com/coeditd/coeditd/internal/client/iocli"
	"github.com/coeditd/coeditd/internal/client/storage/boltdb"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "coedit-client.db", "Path to local database")
	verbose := flag.Bool("verbose", false, "Log scheduler activity to stderr")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage()
		os.Exit(1)
	}
	command := args[0]

	ctx := context.Background()

	store, err := boltdb.New(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	var logWriter io.Writer = io.Discard
	if *verbose {
		logWriter = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logWriter, nil))

	apiClient := api.NewClient(*serverURL)
	app := cli.New(apiClient, store, iocli.NewStdio(), logger)
	app.Run(ctx, command, args[1:])
}

func printVersion() {
	fmt.Printf("coedit client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
