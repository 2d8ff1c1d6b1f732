package cli

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/view"
	"github.com/urfave/cli/v3"
)

func preferencesCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "preferences",
		Usage: "Print the learned preferences grouped by topic",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, closeLog, err := cfg.setupLogger(ctx, stderr(c))
			if err != nil {
				return err
			}
			defer closeLog()

			grouper, err := cfg.newGrouper(ctx)
			if err != nil {
				return err
			}

			term := view.NewTerminal(stdout(c), view.WithGrouper(grouper))
			client, closeState, err := cfg.newClient(ctx, &notifier{term: term})
			if err != nil {
				return err
			}
			defer closeState()

			if err := client.RefreshPreferences(ctx); err != nil {
				return goerr.Wrap(err, "failed to load preferences")
			}
			term.PrintPreferences(ctx, client.Snapshot())
			return nil
		},
	}
}

func insightsCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:  "insights",
		Usage: "Print the summary of what has been learned",
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

			insights, err := client.FetchInsights(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load insights")
			}
			term.PrintInsights(insights)
			return nil
		},
	}
}

func setPreferenceCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:      "set-preference",
		Usage:     "State a preference explicitly",
		ArgsUsage: "<category> <value>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() < 2 {
				return goerr.New("category and value are required")
			}
			category := c.Args().First()
			value := strings.Join(c.Args().Tail(), " ")

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

			if err := client.UpdatePreference(ctx, category, value); err != nil {
				return err
			}
			term.Printf("saved %s: %s", category, value)
			return nil
		},
	}
}

func forgetPreferenceCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:      "forget-preference",
		Usage:     "Remove a learned preference",
		ArgsUsage: "<category>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("category is required")
			}
			category := c.Args().First()

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

			if err := client.DeletePreference(ctx, category); err != nil {
				return err
			}
			term.Printf("removed %s", category)
			return nil
		},
	}
}

func feedbackCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:      "feedback",
		Usage:     "Record interest in a property (interested, not_interested, viewed)",
		ArgsUsage: "<property-id> <feedback>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return goerr.New("property ID and feedback are required")
			}
			propertyID := c.Args().Get(0)
			feedback := adapter.Feedback(c.Args().Get(1))
			if err := feedback.Validate(); err != nil {
				return err
			}

			ctx, closeLog, err := cfg.setupLogger(ctx, stderr(c))
			if err != nil {
				return err
			}
			defer closeLog()

			backend, err := cfg.newBackend()
			if err != nil {
				return err
			}
			ids, closeState, err := cfg.newIdentity(ctx)
			if err != nil {
				return err
			}
			defer closeState()

			sessionID, err := ids.GetOrCreateID(ctx)
			if err != nil {
				return err
			}

			if err := backend.SendFeedback(ctx, sessionID, propertyID, feedback); err != nil {
				return goerr.Wrap(err, "failed to send feedback", goerr.V("property_id", propertyID))
			}
			view.NewTerminal(stdout(c)).Printf("noted: %s %s", propertyID, feedback)
			return nil
		},
	}
}
