package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/usecase/chat"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
	"github.com/m-mizutani/reagent/pkg/view"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, stateFlags(&cfg)...)
	flags = append(flags, policyFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk with the property search assistant",
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

			term, err := view.OpenTerminal(historyFile(), view.WithGrouper(grouper))
			if err != nil {
				return err
			}
			defer term.Close()

			client, closeState, err := cfg.newClient(ctx, term)
			if err != nil {
				return err
			}
			defer closeState()

			if err := client.LoadHistory(ctx); err != nil && !errors.Is(err, chat.ErrStaleResult) {
				term.Printf("(could not load the previous conversation)")
			}
			term.Printf("session %s, type /help for commands", client.SessionID())

			r := &repl{client: client, term: term}
			var wg sync.WaitGroup
			defer wg.Wait()

			for {
				line, err := term.ReadLine()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}
				if line == "" {
					continue
				}

				if strings.HasPrefix(line, "/") {
					if r.handleCommand(ctx, line) {
						return nil
					}
					continue
				}

				wg.Add(1)
				go func() {
					defer wg.Done()
					r.send(ctx, line)
				}()
			}
		},
	}
}

// historyFile is where the prompt keeps typed lines. Empty disables it.
func historyFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		logging.Default().Debug("no user config dir, prompt history disabled", "error", err)
		return ""
	}
	return filepath.Join(dir, "reagent", "prompt_history")
}
