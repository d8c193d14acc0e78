package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"moneyboxes/internal/core"
	"moneyboxes/internal/notify"
	"moneyboxes/internal/storage"
)

func parseAmountFlags(name string, args []string) (core.MoneyboxID, core.Money, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.Int64("id", 0, "moneybox id")
	amountStr := fs.String("amount", "", "amount, e.g. 25.50")
	desc := fs.String("description", "", "optional note")
	if err := fs.Parse(args); err != nil {
		return 0, core.Money{}, "", err
	}
	if *id <= 0 {
		return 0, core.Money{}, "", errors.New("-id is required")
	}
	amount, err := core.ParseMoney(*amountStr)
	if err != nil {
		return 0, core.Money{}, "", fmt.Errorf("amount: %w", err)
	}
	return core.MoneyboxID(*id), amount, *desc, nil
}

func cmdDeposit(ctx context.Context, e *env, args []string) error {
	id, amount, desc, err := parseAmountFlags("deposit", args)
	if err != nil {
		return err
	}
	mb, err := e.repo.Deposit(ctx, id, amount, desc)
	if err != nil {
		return err
	}
	fmt.Printf("%s: balance %s\n", mb.Name, notify.FormatEuro(mb.Balance))
	return nil
}

func cmdWithdraw(ctx context.Context, e *env, args []string) error {
	id, amount, desc, err := parseAmountFlags("withdraw", args)
	if err != nil {
		return err
	}
	mb, err := e.repo.Withdraw(ctx, id, amount, desc)
	if err != nil {
		return err
	}
	fmt.Printf("%s: balance %s\n", mb.Name, notify.FormatEuro(mb.Balance))
	return nil
}

func cmdTransfer(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	from := fs.Int64("from", 0, "source moneybox id")
	to := fs.Int64("to", 0, "destination moneybox id")
	amountStr := fs.String("amount", "", "amount, e.g. 25.50")
	desc := fs.String("description", "", "optional note")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from <= 0 || *to <= 0 {
		return errors.New("-from and -to are required")
	}
	amount, err := core.ParseMoney(*amountStr)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if err := e.repo.Transfer(ctx, core.MoneyboxID(*from), core.MoneyboxID(*to), amount, *desc); err != nil {
		return err
	}
	fmt.Printf("transferred %s from %d to %d\n", notify.FormatEuro(amount), *from, *to)
	return nil
}

func cmdUpdate(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	id := fs.Int64("id", 0, "moneybox id")
	name := fs.String("name", "", "new name")
	amount := fs.String("amount", "", "new savings amount per cycle")
	target := fs.String("target", "", "new savings target")
	clearTarget := fs.Bool("clear-target", false, "remove the savings target")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("-id is required")
	}

	ch := storage.MoneyboxChanges{ClearTarget: *clearTarget}
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "name":
			ch.Name = name
		case "amount":
			var m core.Money
			if m, err = core.ParseMoney(*amount); err == nil {
				ch.SavingsAmount = &m
			}
		case "target":
			var m core.Money
			if m, err = core.ParseMoney(*target); err == nil {
				ch.SavingsTarget = &m
			}
		}
	})
	if err != nil {
		return err
	}

	mb, err := e.repo.UpdateMoneybox(ctx, core.MoneyboxID(*id), ch)
	if err != nil {
		return err
	}
	shown := "-"
	if mb.HasTarget() {
		shown = notify.FormatEuro(*mb.SavingsTarget)
	}
	fmt.Printf("%d %s: savings amount %s, target %s\n", mb.ID, mb.Name, notify.FormatEuro(mb.SavingsAmount), shown)
	return nil
}

func cmdDelete(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	id := fs.Int64("id", 0, "moneybox id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("-id is required")
	}
	moved, err := e.repo.DeleteMoneybox(ctx, core.MoneyboxID(*id))
	if err != nil {
		return err
	}
	fmt.Printf("deleted moneybox %d, %s moved to the overflow moneybox\n", *id, notify.FormatEuro(moved))
	return nil
}

// cmdReorder takes moneybox ids in their new order: the first gets
// priority 1, the second priority 2 and so on.
func cmdReorder(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("reorder", flag.ContinueOnError)
	order := fs.String("ids", "", "comma separated moneybox ids, highest priority first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	priorities, err := parseOrder(*order)
	if err != nil {
		return err
	}
	if err := e.repo.ReorderPriorities(ctx, priorities); err != nil {
		return err
	}
	return cmdList(ctx, e, nil)
}

func parseOrder(s string) (map[core.MoneyboxID]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("-ids is required")
	}
	out := map[core.MoneyboxID]int{}
	for i, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid moneybox id %q", part)
		}
		if _, dup := out[core.MoneyboxID(id)]; dup {
			return nil, fmt.Errorf("moneybox %d listed twice", id)
		}
		out[core.MoneyboxID(id)] = i + 1
	}
	return out, nil
}

func cmdTransactions(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("transactions", flag.ContinueOnError)
	id := fs.Int64("id", 0, "moneybox id")
	limit := fs.Int("limit", 20, "number of transactions to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("-id is required")
	}

	txs, err := e.repo.ListTransactions(ctx, core.MoneyboxID(*id), *limit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "TIME\tAMOUNT\tBALANCE\tTYPE\tTRIGGER\tCOUNTERPARTY\tDESCRIPTION")
	for _, t := range txs {
		counterparty := "-"
		if t.CounterpartyID != 0 {
			counterparty = strconv.FormatInt(int64(t.CounterpartyID), 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Local().Format(time.DateTime), t.Amount, notify.FormatEuro(t.Balance),
			t.Type, t.Trigger, counterparty, t.Description)
	}
	return tw.Flush()
}
