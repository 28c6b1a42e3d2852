// Command lapin cleans and decomposes physiological recordings.
//
// Usage:
//
//	lapin clean -file recording.txt [-measure M] [-json]
//	lapin decompose -file recording.txt -measure M [-period P] [-html out.html] [-png out.png]
//	lapin serve [-listen :8080]
//	lapin migrate <up|down|status|force N>
//	lapin version
//
// Every subcommand accepts -config (a JSON pipeline configuration), -db
// (the SQLite result store) and -v (log every cleaning event). LAPIN_*
// environment variables override the configuration file.
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

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/config"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/db"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/version"
)

// errUsage is returned after the usage was printed.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	default:
		log.Fatalf("lapin: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "clean":
		return cmdClean(ctx, args, stdout, stderr)
	case "decompose":
		return cmdDecompose(ctx, args, stdout, stderr)
	case "serve":
		return cmdServe(ctx, args, stdout, stderr)
	case "migrate":
		return cmdMigrate(args, stdout, stderr)
	case "version", "-version", "--version":
		printVersion(stdout)
		return nil
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return errUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: lapin <command> [flags]

Commands:
  clean       clean the channels of a recording and report what was omitted
  decompose   decompose a cleaned channel and chart it
  serve       serve the pipeline over HTTP
  migrate     manage the result database schema
  version     print build information

Run 'lapin <command> -h' for the flags of a command.
`)
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, version.String("lapin"))
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	dbPath     string
	version    bool
	verbose    bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "Path to a JSON pipeline configuration")
	fs.StringVar(&c.dbPath, "db", "", "Path to the SQLite result database (empty: do not record, except for serve and migrate)")
	fs.BoolVar(&c.version, "version", false, "Print version information and exit")
	fs.BoolVar(&c.verbose, "v", false, "Log every cleaning event")
	return fs, c
}

// parse parses args and loads the configuration. It returns done when
// -version was handled.
func (c *commonFlags) parse(fs *flag.FlagSet, args []string, stdout io.Writer) (cfg *config.PipelineConfig, done bool, err error) {
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if c.version {
		printVersion(stdout)
		return nil, true, nil
	}
	cfg, err = config.Load(c.configPath)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// openDB opens the result database at path, or returns nil when path is
// empty.
func openDB(path string) (*db.DB, error) {
	if path == "" {
		return nil, nil
	}
	results, err := db.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("open result database: %w", err)
	}
	return results, nil
}

func cmdMigrate(args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("migrate", stderr)
	fs.Usage = func() { db.PrintMigrateHelp(stderr) }
	cfg, done, err := common.parse(fs, args, stdout)
	if err != nil || done {
		return err
	}
	path := common.dbPath
	if path == "" {
		path = cfg.GetDatabasePath()
	}
	return db.RunMigrateCommand(stdout, fs.Args(), path)
}
