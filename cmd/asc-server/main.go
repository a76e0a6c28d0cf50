// Command asc-server is the non-interactive sync entry point: spawned over
// an SSH exec (or any other process-per-connection transport) with its
// working directory set to a repository root, it serves exactly one
// clone/pull/push conversation over stdin/stdout and exits.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"asc.dev/asc/internal/asclog"
	"asc.dev/asc/repo"
	"asc.dev/asc/syncproto"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("asc-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", ".", "repository root to serve")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level, err := asclog.ParseLevel(*logLevel)
	if err != nil {
		level = asclog.LevelInfo
	}
	logger := asclog.New(stderr, level)

	r, err := repo.LoadFrom(*root)
	if err != nil {
		fmt.Fprintf(stderr, "asc-server: %v\n", err)
		return 1
	}
	defer r.Close()

	logger.Infof("serving %q from %s", r.ProjectName, r.RootDir)

	stream := syncproto.NewStdStream()
	if err := syncproto.HandleServer(stream, r); err != nil {
		logger.Errorf("conversation failed: %v", err)
		return 1
	}

	if err := r.Save(); err != nil {
		fmt.Fprintf(stderr, "asc-server: %v\n", err)
		return 1
	}

	logger.Infof("conversation complete")
	return 0
}
