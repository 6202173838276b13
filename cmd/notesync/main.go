// Command notesync is the offline-first client: it keeps encrypted tags and notes in a
// drive snapshot and mirrors them to a notesync server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/and161185/notesync/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// globals are the persistent flags shared by every command.
type globals struct {
	home     string
	cfgPath  string
	offline  bool
	logLevel string
	verbose  bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

func (g *globals) configPath() string {
	if g.cfgPath != "" {
		return g.cfgPath
	}
	return filepath.Join(g.home, config.FileName)
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "notesync",
		Short:         "Encrypted, offline-first tags and notes",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(g.stdin)
	root.SetOut(g.stdout)
	root.SetErr(g.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.home, "home", config.DefaultBaseDir(), "base directory for config, drive and logs")
	pf.StringVar(&g.cfgPath, "config", "", "config file (default <home>/config.toml)")
	pf.BoolVar(&g.offline, "offline", false, "do not contact the mirror server")
	pf.StringVar(&g.logLevel, "log-level", "", "override log.level from the config")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "also log to stderr")

	root.AddCommand(
		newInitCmd(g),
		newTagCmd(g),
		newNoteCmd(g),
		newSyncCmd(g),
		newStatusCmd(g),
		newWatchCmd(g),
		newAdminCmd(g),
	)
	return root
}

func main() {
	g := &globals{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr, getenv: os.Getenv}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(g).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
