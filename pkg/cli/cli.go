package cli

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/view"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "reagent",
		Usage: "Terminal client of the REAgent property search assistant",
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			historyCommand(),
			preferencesCommand(),
			insightsCommand(),
			setPreferenceCommand(),
			forgetPreferenceCommand(),
			feedbackCommand(),
			resetCommand(),
			sessionCommand(),
			healthCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func stdout(c *cli.Command) io.Writer {
	if w := c.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(c *cli.Command) io.Writer {
	if w := c.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// notifier is the view of one-shot commands: state is printed explicitly by
// each command, only notifications go to the terminal.
type notifier struct {
	term *view.Terminal
}

func (x *notifier) Render(context.Context, *model.Snapshot, model.Change) {}

func (x *notifier) Notify(ctx context.Context, message string) {
	x.term.Notify(ctx, message)
}
