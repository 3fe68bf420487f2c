package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/peterluvCS/portfolio-manager/internal/app"
	"github.com/peterluvCS/portfolio-manager/internal/model"
	"github.com/peterluvCS/portfolio-manager/internal/report"
)

var commands = []subcommands.Command{
	&tradeCmd{side: model.Buy},
	&tradeCmd{side: model.Sell},
	&cashCmd{withdraw: false},
	&cashCmd{withdraw: true},
	&portfolioCmd{},
	&ordersCmd{},
	&pricesCmd{},
	&fetchCmd{},
}

type tradeCmd struct {
	side model.Side
}

func (c *tradeCmd) Name() string {
	if c.side == model.Sell {
		return "sell"
	}
	return "buy"
}

func (c *tradeCmd) Synopsis() string {
	return fmt.Sprintf("%s an instrument at the latest market price", c.Name())
}

func (c *tradeCmd) Usage() string {
	return fmt.Sprintf(`portfolioctl %s <ticker> <quantity> <limit-price>

  Settles at the latest stored market price. The limit price is a
  protection bound: a buy is rejected when it is below market, a sell
  when it is above.
`, c.Name())
}

func (*tradeCmd) SetFlags(*flag.FlagSet) {}

func (c *tradeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	qty, err := parseDecimal("quantity", f.Arg(1))
	if err != nil {
		fail(err)
		return subcommands.ExitUsageError
	}
	limit, err := parseDecimal("limit price", f.Arg(2))
	if err != nil {
		fail(err)
		return subcommands.ExitUsageError
	}

	s, err := openSession(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	settle := s.engine.SettleBuy
	if c.side == model.Sell {
		settle = s.engine.SettleSell
	}
	res, err := settle(ctx, f.Arg(0), qty, limit)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(report.Execution(res))
	return subcommands.ExitSuccess
}

type cashCmd struct {
	withdraw bool
}

func (c *cashCmd) Name() string {
	if c.withdraw {
		return "withdraw"
	}
	return "deposit"
}

func (c *cashCmd) Synopsis() string {
	if c.withdraw {
		return "take cash out of the portfolio"
	}
	return "add cash to the portfolio"
}

func (c *cashCmd) Usage() string {
	return fmt.Sprintf("portfolioctl %s <amount>\n", c.Name())
}

func (*cashCmd) SetFlags(*flag.FlagSet) {}

func (c *cashCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	amount, err := parseDecimal("amount", f.Arg(0))
	if err != nil {
		fail(err)
		return subcommands.ExitUsageError
	}

	s, err := openSession(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	adjust := s.engine.Deposit
	if c.withdraw {
		adjust = s.engine.Withdraw
	}
	balance, err := adjust(ctx, amount)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(fmt.Sprintf("Cash balance: **%s**\n", report.USD(balance)))
	return subcommands.ExitSuccess
}

type portfolioCmd struct{}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "display holdings valued at the latest prices" }
func (*portfolioCmd) Usage() string {
	return `portfolioctl portfolio

  Values every holding at its latest price. Holdings without a price are
  valued at their average cost and marked with *.
`
}
func (*portfolioCmd) SetFlags(*flag.FlagSet) {}

func (*portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	snap, err := s.engine.ComputePortfolio(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(report.Portfolio(snap))
	return subcommands.ExitSuccess
}

type ordersCmd struct{}

func (*ordersCmd) Name() string           { return "orders" }
func (*ordersCmd) Synopsis() string       { return "list executed orders" }
func (*ordersCmd) Usage() string          { return "portfolioctl orders\n" }
func (*ordersCmd) SetFlags(*flag.FlagSet) {}

func (*ordersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	orders, err := s.engine.ListOrders(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(report.Orders(orders))
	return subcommands.ExitSuccess
}

type pricesCmd struct{}

func (*pricesCmd) Name() string           { return "prices" }
func (*pricesCmd) Synopsis() string       { return "list the latest stored price of each ticker" }
func (*pricesCmd) Usage() string          { return "portfolioctl prices\n" }
func (*pricesCmd) SetFlags(*flag.FlagSet) {}

func (*pricesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	prices, err := s.engine.LatestPrices(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(report.Prices(prices))
	return subcommands.ExitSuccess
}

type fetchCmd struct{}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "fetch fresh quotes for every instrument" }
func (*fetchCmd) Usage() string {
	return `portfolioctl fetch

  Fetches a quote from Yahoo Finance for each configured instrument and
  appends a price snapshot when the quote is newer than the stored one.
`
}
func (*fetchCmd) SetFlags(*flag.FlagSet) {}

func (*fetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := openSession(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer s.Close()

	job, err := app.NewPriceJob(s.cfg, s.backend, s.log)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	printMarkdown(report.IngestResults(job.RunOnce(ctx)))
	return subcommands.ExitSuccess
}
