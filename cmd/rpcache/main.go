// Command rpcache runs the local artifact cache's housekeeping pass: it
// loads configuration, prepares the cache tree, reconciles it against the
// filesystem, and persists the surviving tree back to metadata.json. The
// download coordinator itself is a library entry point (internal/localcache)
// meant to be driven by a validator that owns the actual file-sync/HTTP
// fetchers; this binary only exercises the parts that don't require them.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/relyingparty/rpcache/internal/config"
	"github.com/relyingparty/rpcache/internal/localcache"
	"github.com/relyingparty/rpcache/internal/logging"
	"github.com/relyingparty/rpcache/internal/overlay"
	"github.com/relyingparty/rpcache/internal/version"
)

// cliOptions collects parsed CLI flags so run can be exercised in tests
// without touching os.Args.
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

func run(opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.Init(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "init logging: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["local_repository_root"] = cfg.LocalRepositoryRoot
		fields["overlay_location"] = cfg.OverlayLocation
		fields["result"] = "ok"
		logger.WithFields(fields).Info("configuration is valid")
		return 0
	}

	doc, err := loadOverlay(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "load overlay: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(cfg.LocalRepositoryRoot, 0o755); err != nil {
		fmt.Fprintf(stdErr, "create local_repository_root: %v\n", err)
		return 1
	}

	c := localcache.New(cfg.LocalRepositoryRoot, nil, nil, logger)
	c.Prepare()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["local_repository_root"] = cfg.LocalRepositoryRoot
	fields["version"] = version.Full()
	if doc != nil {
		fields["overlay_prefix_filters"] = len(doc.PrefixFilters)
		fields["overlay_bgpsec_filters"] = len(doc.BGPsecFilters)
		fields["overlay_prefix_assertions"] = len(doc.PrefixAssertions)
		fields["overlay_bgpsec_assertions"] = len(doc.BGPsecAssertions)
	}
	logger.WithFields(fields).Info("cache ready")

	if err := c.Cleanup(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "cleanup: %v\n", err)
		c.Teardown()
		return 1
	}
	c.Teardown()

	return 0
}

func loadOverlay(cfg *config.Config, logger *logrus.Logger) (*overlay.Document, error) {
	index := 0
	warn := func(format string, args ...interface{}) {
		index++
		logger.WithFields(logging.ValidationFields("overlay_record_rejected", index)).Warnf(format, args...)
	}
	return overlay.Load(cfg.OverlayLocation, warn)
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("rpcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "configuration file path (default ./rpcache.toml, overridable via RPCACHE_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate configuration and exit")
	fs.BoolVar(&showVer, "version", false, "print version information")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("RPCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "rpcache.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
