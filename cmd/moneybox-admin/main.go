package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"moneyboxes/internal/cli"
	"moneyboxes/internal/config"
	"moneyboxes/internal/log"
	"moneyboxes/internal/storage"
)

type env struct {
	cfg    *config.Config
	repo   *storage.SQLiteRepository
	logger *log.Logger
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"list":         {"list moneyboxes by priority", cmdList},
	"add":          {"add a moneybox: -name -priority [-amount] [-target]", cmdAdd},
	"activate":     {"activate a moneybox: -id", cmdSetActive(true)},
	"deactivate":   {"deactivate a moneybox: -id", cmdSetActive(false)},
	"settings":     {"show the automated savings settings", cmdSettings},
	"set-settings": {"update settings: [-active] [-amount] [-mode] [-email] [-send-reports]", cmdSetSettings},
	"forecast":     {"forecast when targets are reached: [-months]", cmdForecast},
	"cycles":       {"list recent cycles: [-limit]", cmdCycles},
	"run":          {"run every due cycle now", cmdRun},
	"test-email":   {"send a test email: -to", cmdTestEmail},
	"deposit":      {"add money to a moneybox: -id -amount [-description]", cmdDeposit},
	"withdraw":     {"take money out of a moneybox: -id -amount [-description]", cmdWithdraw},
	"transfer":     {"move money between moneyboxes: -from -to -amount [-description]", cmdTransfer},
	"update":       {"change a moneybox: -id [-name] [-amount] [-target] [-clear-target]", cmdUpdate},
	"delete":       {"delete a moneybox, its balance goes to the overflow: -id", cmdDelete},
	"reorder":      {"set priorities by order: -ids 3,1,2", cmdReorder},
	"transactions": {"show the transaction log of a moneybox: -id [-limit]", cmdTransactions},
}

func main() {
	cli.LoadEnvFile()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), "admin")
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.GracefulShutdown(logger)
	defer cancel()

	repo := cli.InitSQLite(ctx, logger, cfg)
	defer repo.Close()

	if err := cmd.run(ctx, &env{cfg: cfg, repo: repo, logger: logger}, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		repo.Close()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: moneybox-admin <command> [flags]")
	fmt.Fprintln(os.Stderr)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", name, commands[name].usage)
	}
}
