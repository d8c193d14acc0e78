package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"moneyboxes/internal/cli"
	"moneyboxes/internal/core"
	"moneyboxes/internal/distribution"
	"moneyboxes/internal/notify"
	"moneyboxes/internal/services"
	"moneyboxes/internal/storage"
)

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func cmdList(ctx context.Context, e *env, _ []string) error {
	snapshots, err := e.repo.LoadMoneyboxes(ctx)
	if err != nil {
		return err
	}
	list, err := core.PriorityListFromSnapshots(snapshots)
	if err != nil {
		return err
	}

	tw := newTable()
	fmt.Fprintln(tw, "ID\tPRIORITY\tNAME\tSAVINGS AMOUNT\tTARGET\tBALANCE")
	for _, mb := range list.Ranked() {
		target := "-"
		if mb.HasTarget() {
			target = notify.FormatEuro(*mb.SavingsTarget)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n", mb.ID, mb.Priority, mb.Name,
			notify.FormatEuro(mb.SavingsAmount), target, notify.FormatEuro(mb.Balance))
	}
	ov := list.Overflow()
	fmt.Fprintf(tw, "%d\t-\t%s\t-\t-\t%s\n", ov.ID, ov.Name, notify.FormatEuro(ov.Balance))

	var inactive int
	for _, mb := range snapshots {
		if !mb.IsActive && !mb.IsOverflow {
			inactive++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if inactive > 0 {
		fmt.Printf("\n%d inactive moneybox(es) not shown\n", inactive)
	}
	return nil
}

func cmdAdd(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	name := fs.String("name", "", "moneybox name")
	priority := fs.Int("priority", 0, "distribution priority, 1 is served first")
	amount := fs.String("amount", "0", "savings amount per cycle, e.g. 150.00")
	target := fs.String("target", "", "optional savings target")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mb := storage.NewMoneybox{Name: *name, Priority: *priority}
	var err error
	if mb.SavingsAmount, err = core.ParseMoney(*amount); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if *target != "" {
		t, err := core.ParseMoney(*target)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		mb.SavingsTarget = core.Target(t)
	}

	id, err := e.repo.CreateMoneybox(ctx, mb)
	if err != nil {
		return err
	}
	fmt.Printf("created moneybox %d\n", id)
	return nil
}

func cmdSetActive(active bool) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		name := "activate"
		if !active {
			name = "deactivate"
		}
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		id := fs.Int64("id", 0, "moneybox id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id <= 0 {
			return errors.New("-id is required")
		}
		return e.repo.SetMoneyboxActive(ctx, core.MoneyboxID(*id), active)
	}
}

func cmdSettings(ctx context.Context, e *env, _ []string) error {
	s, err := e.repo.LoadSettings(ctx)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintf(tw, "automated saving active\t%t\n", s.IsAutomatedSavingActive)
	fmt.Fprintf(tw, "savings amount\t%s\n", notify.FormatEuro(s.SavingsAmount))
	fmt.Fprintf(tw, "overflow mode\t%s (%s)\n", s.OverflowMode, s.OverflowMode.Description())
	fmt.Fprintf(tw, "send reports via email\t%t\n", s.SendReportsViaEmail)
	fmt.Fprintf(tw, "email address\t%s\n", s.UserEmailAddress)
	return tw.Flush()
}

func cmdSetSettings(ctx context.Context, e *env, args []string) error {
	s, err := e.repo.LoadSettings(ctx)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("set-settings", flag.ContinueOnError)
	fs.BoolVar(&s.IsAutomatedSavingActive, "active", s.IsAutomatedSavingActive, "run automated savings")
	amount := fs.String("amount", s.SavingsAmount.String(), "savings amount per cycle")
	mode := fs.String("mode", string(s.OverflowMode), "overflow mode")
	fs.StringVar(&s.UserEmailAddress, "email", s.UserEmailAddress, "report receiver")
	fs.BoolVar(&s.SendReportsViaEmail, "send-reports", s.SendReportsViaEmail, "mail a report after each cycle")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if s.SavingsAmount, err = core.ParseMoney(*amount); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if s.OverflowMode, err = core.ParseOverflowMode(*mode); err != nil {
		return err
	}
	if err := e.repo.UpdateSettings(ctx, s); err != nil {
		return err
	}
	return cmdSettings(ctx, e, nil)
}

func cmdForecast(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	months := fs.Int("months", distribution.DefaultForecastMonths, "months to simulate at most")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := e.repo.LoadSettings(ctx)
	if err != nil {
		return err
	}
	snapshots, err := e.repo.LoadMoneyboxes(ctx)
	if err != nil {
		return err
	}
	list, err := core.PriorityListFromSnapshots(snapshots)
	if err != nil {
		return err
	}
	forecasts, err := distribution.Forecast(list, s.SavingsAmount, s.OverflowMode, *months)
	if err != nil {
		return err
	}

	tw := newTable()
	fmt.Fprintln(tw, "NAME\tTARGET\tREACHED\tFIRST MONTHS")
	for _, f := range forecasts {
		target, reached := "-", "-"
		if f.SavingsTarget != nil {
			target = notify.FormatEuro(*f.SavingsTarget)
			switch f.ReachedInMonth {
			case distribution.ReachedAlready:
				reached = "already"
			case distribution.NeverReached:
				reached = "never"
			default:
				reached = fmt.Sprintf("month %d", f.ReachedInMonth)
			}
		}
		preview := ""
		for i, m := range f.Monthly {
			if i == 3 {
				preview += " ..."
				break
			}
			preview += fmt.Sprintf(" %d:%s", m.Month, m.Amount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, target, reached, preview)
	}
	return tw.Flush()
}

func cmdCycles(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("cycles", flag.ContinueOnError)
	limit := fs.Int("limit", 12, "number of cycles to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cycles, err := e.repo.ListCycles(ctx, *limit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "MONTH\tRAN AT\tSTATUS\tMODE\tDISTRIBUTED\tLEFTOVER\tREPORT\tNOTE")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			c.Month, c.CycleDate.Local().Format(time.DateTime), c.Status, c.Mode,
			notify.FormatEuro(c.Distributed), notify.FormatEuro(c.Leftover), c.ReportSent, c.Note)
	}
	return tw.Flush()
}

func cmdRun(ctx context.Context, e *env, _ []string) error {
	loc, err := e.cfg.Location()
	if err != nil {
		return err
	}
	var publisher services.CyclePublisher
	if client := cli.InitAMQP(e.logger, e.cfg); client != nil {
		defer client.Close()
		publisher = client
	}

	runner := services.NewCycleRunner(e.repo, publisher, services.RunnerOptions{
		Location:  loc,
		Hour:      e.cfg.CycleHour,
		MaxCycles: e.cfg.CatchUpMaxCycles,
	}, e.logger)
	n, err := runner.RunDue(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("applied %d cycle(s)\n", n)
	return nil
}

func cmdTestEmail(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("test-email", flag.ContinueOnError)
	to := fs.String("to", "", "receiver address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return errors.New("-to is required")
	}
	return cli.NewMailer(e.logger, e.cfg).SendTestEmail(ctx, *to)
}
