package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"meetrec/log"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func fullVersion() string {
	return fmt.Sprintf("meetrec %s, commit %s, built at %s", version, commit, date)
}

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}

// initLogDir resolves the log directory and routes fatal crashes to
// crash_log.txt inside it.
func initLogDir(flagPath string) error {
	dir, err := log.ResolveDir(flagPath)
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	log.SetDir(dir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return nil
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}
	return nil
}
