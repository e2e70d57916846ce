// Binary portos inspects files, holds cross-process locks and serves files
// over sockets using the portos libraries.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/walteh/portos/pkg/config"
	"github.com/walteh/portos/pkg/log"
	"github.com/walteh/portos/pkg/pool"
)

var (
	configPath = flag.String("config", "", "path to a TOML configuration file")
	debug      = flag.Bool("debug", false, "enable debug logging")
	logFormat  = flag.String("log-format", "", "log format, text or json; overrides the configuration file")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")

	const fsGroup = "filesystem"
	subcommands.Register(new(Stat), fsGroup)
	subcommands.Register(new(List), fsGroup)
	subcommands.Register(new(Mkdir), fsGroup)
	subcommands.Register(new(Lock), "locking")
	registerPlatform()

	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		fatalf("loading configuration: %v", err)
	}
	if *debug {
		conf.Log.Level = "debug"
	}
	if *logFormat != "" {
		conf.Log.Format = *logFormat
	}
	if err := conf.Validate(); err != nil {
		fatalf("%v", err)
	}
	if err := conf.ApplyLogging(); err != nil {
		fatalf("configuring logging: %v", err)
	}

	root := pool.New(nil)
	status := subcommands.Execute(context.Background(), &conf, root)
	if err := root.Destroy(); err != nil {
		log.Warningf("Releasing resources: %v", err)
	}
	os.Exit(int(status))
}

// fatalf prints a message and exits. Only main uses it; commands return
// an exit status instead.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

// setup unpacks the arguments main passes to every command.
func setup(args []any) (*config.Config, *pool.Pool) {
	return args[0].(*config.Config), args[1].(*pool.Pool)
}

// failure reports err and returns the failing exit status.
func failure(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "portos: "+format+"\n", args...)
	return subcommands.ExitFailure
}
