package cli

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/view"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg     config
		details bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "details",
			Aliases:     []string{"d"},
			Usage:       "Print every recommended property in full",
			Sources:     cli.EnvVars("REAGENT_ASK_DETAILS"),
			Destination: &details,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, stateFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one message and print the reply and recommendations",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			message := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(message) == "" {
				return goerr.New("message is required")
			}

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

			if err := client.SendMessage(ctx, message); err != nil {
				return goerr.Wrap(err, "failed to send message")
			}
			// let the preference refresh finish before the process exits
			if err := client.WaitPreferences(ctx); err != nil {
				return err
			}

			snap := client.Snapshot()
			last := snap.Messages[len(snap.Messages)-1]
			term.PrintTranscript([]*model.Message{last})
			if last.Failed {
				return goerr.New("the service could not be reached")
			}

			if len(snap.Recommendations) == 0 {
				return nil
			}
			term.Printf("")
			term.PrintRecommendations(snap.Recommendations)
			if details {
				for _, r := range snap.Recommendations {
					term.Printf("")
					term.PrintProperty(r)
				}
			}
			return nil
		},
	}
}
