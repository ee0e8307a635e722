package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventsched/internal/app"
	"eventsched/pkg/scheduler"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app.App, args []string) error
}

var commands = []command{
	{"add", "add -slug S -key K (-href URL | -host H [-path P]) [-at WHEN] [-data JSON]", runAdd},
	{"get", "get -slug S -key K", runGet},
	{"list", "list [-slug S] [-before WHEN] [-after WHEN] [-failed true|false]", runList},
	{"remove", "remove -slug S -key K [-key K2 ... [-atomic]]", runRemove},
	{"update", "update -slug S -key K [-at WHEN] [-href URL | -host H -path P] [-recurring JSON]", runUpdate},
	{"journal", "journal [-tx ID] [-slug S] [-stage STAGE] [-since 24h] [-limit N]", runJournal},
	{"demo", "demo [-slug S] [-key K]", runDemo},
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: eventsched [-config path] [-watch] <command> [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %s\n", c.usage)
	}
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

func main() {
	var (
		cfgPath string
		watch   bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (defaults apply when empty)")
	flag.BoolVar(&watch, "watch", false, "hot-reload the config file while running")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	name, args := flag.Arg(0), flag.Args()[1:]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, app.WithConfigWatch(watch))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	runErr := cmd.run(ctx, a, args)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}

	if runErr != nil {
		os.Exit(report(runErr))
	}
}

// report prints err and returns the exit code.
func report(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	var se *scheduler.Error
	if errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "error: %s (kind=%s status=%d)\n", se.Message, se.Kind, se.Status)
		return 1
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
