package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitStorageError   = 3
	ExitUnsupportedRef = 4
	ExitDownloadFailed = 5
	ExitPublishFailed  = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	rest := args[1:]

	switch command {
	case "download":
		return runDownload(rest)
	case "publish":
		return runPublish(rest)
	case "inspect":
		return runInspect(rest)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `tablepull - stream large tables out of object storage as Arrow batches

Usage:
  tablepull download [options]   Download a table to a local Arrow IPC file
  tablepull publish [options]    Publish a local Arrow IPC file as a table
  tablepull inspect [options]    Print a table's manifest without downloading
  tablepull help                 Show this help

Run 'tablepull <command> -h' for command-specific options.`)
}
