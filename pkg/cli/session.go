package cli

import (
	"context"
	"errors"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/usecase/chat"
	"github.com/m-mizutani/reagent/pkg/view"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "Print the stored conversation of the current session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, closeLog, err := cfg.setupLogger(ctx, stderr(c))
			if err != nil {
				return err
			}
			defer closeLog()

			term := view.NewTerminal(stdout(c))
			client, closeState, err := cfg.newClient(ctx, &notifier{term: term})
			if err != nil {
				return err
			}
			defer closeState()

			if err := client.LoadHistory(ctx); err != nil {
				return goerr.Wrap(err, "failed to load history")
			}
			term.PrintTranscript(client.Snapshot().Messages)
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	var (
		cfg config
		yes bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Do not ask for confirmation",
			Sources:     cli.EnvVars("REAGENT_YES"),
			Destination: &yes,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:  "reset",
		Usage: "Delete the current conversation and start a new session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, closeLog, err := cfg.setupLogger(ctx, stderr(c))
			if err != nil {
				return err
			}
			defer closeLog()

			term := view.NewTerminal(stdout(c), view.WithInput(os.Stdin))
			client, closeState, err := cfg.newClient(ctx, &notifier{term: term})
			if err != nil {
				return err
			}
			defer closeState()

			err = client.ResetSession(ctx, func() bool {
				return yes || term.Confirm("Delete this conversation and start over?")
			})
			switch {
			case errors.Is(err, chat.ErrResetNotConfirmed):
				term.Printf("reset cancelled")
				return nil
			case err != nil:
				return err
			}

			term.Printf("new session: %s", client.SessionID())
			return nil
		},
	}
}

func sessionCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:  "session",
		Usage: "Print the current session ID, creating one if needed",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, closeLog, err := cfg.setupLogger(ctx, stderr(c))
			if err != nil {
				return err
			}
			defer closeLog()

			ids, closeState, err := cfg.newIdentity(ctx)
			if err != nil {
				return err
			}
			defer closeState()

			id, err := ids.GetOrCreateID(ctx)
			if err != nil {
				return err
			}
			view.NewTerminal(stdout(c)).Printf("%s", id)
			return nil
		},
	}
}

func healthCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "health",
		Usage: "Check that the REAgent service is up",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, closeLog, err := cfg.setupLogger(ctx, stderr(c))
			if err != nil {
				return err
			}
			defer closeLog()

			backend, err := cfg.newBackend()
			if err != nil {
				return err
			}

			status, err := backend.Health(ctx)
			if err != nil {
				return goerr.Wrap(err, "health check failed", goerr.V("base_url", cfg.baseURL))
			}
			view.NewTerminal(stdout(c)).Printf("%s: %s", status.Service, status.Status)
			return nil
		},
	}
}
