package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"gcontrib/internal/app"
	"gcontrib/internal/storage"
)

const usage = `usage: gcontrib [-config path] [command]

commands:
  run                 run the daemon (default)
  once                plan and execute today, then exit
  register NAME REPO  register an account
  accounts            list accounts
  repo NAME           print the repository of an account
  status              print today's plan status
`

func main() {
	var (
		cfgPath string
		asJSON  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json, yaml or toml)")
	flag.BoolVar(&asJSON, "json", false, "print command output as json")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, cfgPath, asJSON, flag.Args()))
}

func run(ctx context.Context, cfgPath string, asJSON bool, args []string) int {
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	want := map[string]int{"run": 0, "once": 0, "register": 2, "accounts": 0, "repo": 1, "status": 0}
	n, ok := want[cmd]
	if !ok || len(args) != n {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	defer a.Close()

	out := func(v any, text func()) {
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(v)
			return
		}
		text()
	}

	switch cmd {
	case "run":
		err = a.Run(ctx)
	case "once":
		var outcome any
		outcome, err = a.RunOnce(ctx)
		if err == nil {
			out(map[string]any{"outcome": outcome}, func() { fmt.Println(outcome) })
		}
	case "register":
		err = a.RegisterAccount(ctx, args[0], args[1])
		if errors.Is(err, storage.ErrDuplicateKey) {
			fmt.Fprintf(os.Stderr, "account %q already registered\n", args[0])
			return 1
		}
	case "accounts":
		var list []app.Account
		list, err = a.Accounts(ctx)
		if err == nil {
			out(list, func() {
				for _, acc := range list {
					fmt.Printf("%s\t%s\n", acc.Name, acc.Repository)
				}
			})
		}
	case "repo":
		var repo string
		repo, err = a.Repository(ctx, args[0])
		if storage.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "account %q not found\n", args[0])
			return 1
		}
		if err == nil {
			out(map[string]string{"name": args[0], "repository": repo}, func() { fmt.Println(repo) })
		}
	case "status":
		snap, serr := a.Status(ctx)
		err = serr
		if err == nil {
			out(snap, func() { err = app.WriteStatus(os.Stdout, snap) })
		}
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	return 0
}
