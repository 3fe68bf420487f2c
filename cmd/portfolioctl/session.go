package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/app"
	"github.com/peterluvCS/portfolio-manager/internal/config"
	"github.com/peterluvCS/portfolio-manager/internal/ledger"
)

var globals struct {
	configPath string
	plain      bool
	verbose    bool
}

// session is an opened ledger for the duration of one command.
type session struct {
	cfg     *config.Config
	log     zerolog.Logger
	backend *app.Backend
	engine  *ledger.Engine
}

func openSession(ctx context.Context) (*session, error) {
	p := globals.configPath
	if p == "" {
		p = config.PathFromEnv()
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if !globals.verbose {
		log = log.Level(zerolog.WarnLevel)
	}

	backend, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	engine, err := app.NewEngine(ctx, cfg, backend, log)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: log, backend: backend, engine: engine}, nil
}

func (s *session) Close() {
	if err := s.backend.Close(); err != nil {
		s.log.Error().Err(err).Msg("store close failed")
	}
}

func printMarkdown(md string) {
	if globals.plain {
		fmt.Print(md)
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(120))
	if err == nil {
		var out string
		if out, err = r.Render(md); err == nil {
			fmt.Print(out)
			return
		}
	}
	fmt.Print(md)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}
