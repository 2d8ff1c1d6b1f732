package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/reagent/pkg/adapter"
	"github.com/m-mizutani/reagent/pkg/usecase/chat"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
	"github.com/m-mizutani/reagent/pkg/view"
)

const helpText = `Commands:
  /help                      show this help
  /recs                      list the current recommendations
  /show <id>                 show details of a recommended property
  /close                     close the panel or property details
  /prefs                     show learned preferences and insights
  /like <id>                 mark a property as interesting
  /dislike <id>              mark a property as not interesting
  /set <category> <value>    state a preference
  /forget <category>         remove a preference
  /reset                     delete this conversation and start over
  /session                   show the session ID
  /exit                      quit
Anything else is sent to the assistant.`

// repl dispatches lines typed in the chat command.
type repl struct {
	client *chat.Client
	term   *view.Terminal
}

// handleCommand runs one slash command. It returns true when the session
// should end.
func (x *repl) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "/help":
		x.term.Printf("%s", helpText)

	case "/exit", "/quit":
		return true

	case "/session":
		x.term.Printf("session: %s", x.client.SessionID())

	case "/recs":
		x.term.PrintRecommendations(x.client.Snapshot().Recommendations)

	case "/show":
		if len(args) != 1 {
			x.term.Printf("usage: /show <id>")
			return false
		}
		if _, err := x.client.ShowProperty(ctx, args[0]); err != nil {
			x.report(ctx, err)
		}

	case "/close":
		x.client.CloseModal(ctx)

	case "/prefs":
		if err := x.client.OpenPreferences(ctx); err != nil {
			x.report(ctx, err)
		}

	case "/like", "/dislike":
		if len(args) != 1 {
			x.term.Printf("usage: %s <id>", name)
			return false
		}
		feedback := adapter.FeedbackInterested
		if name == "/dislike" {
			feedback = adapter.FeedbackNotInterested
		}
		if err := x.client.SendFeedback(ctx, args[0], feedback); err != nil {
			x.report(ctx, err)
			return false
		}
		x.term.Printf("noted: %s %s", args[0], feedback)

	case "/set":
		if len(args) < 2 {
			x.term.Printf("usage: /set <category> <value>")
			return false
		}
		if err := x.client.UpdatePreference(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
			x.report(ctx, err)
			return false
		}
		x.term.Printf("saved %s", args[0])

	case "/forget":
		if len(args) != 1 {
			x.term.Printf("usage: /forget <category>")
			return false
		}
		if err := x.client.DeletePreference(ctx, args[0]); err != nil {
			x.report(ctx, err)
			return false
		}
		x.term.Printf("removed %s", args[0])

	case "/reset":
		err := x.client.ResetSession(ctx, func() bool {
			return x.term.Confirm("Delete this conversation and start over?")
		})
		if err != nil {
			x.report(ctx, err)
		}

	default:
		x.term.Printf("unknown command %s, type /help", name)
	}

	return false
}

// send runs one chat turn. It is called in its own goroutine.
func (x *repl) send(ctx context.Context, text string) {
	if err := x.client.SendMessage(ctx, text); err != nil {
		x.report(ctx, err)
	}
}

// report prints a short message for errors the user can act on and logs the
// rest.
func (x *repl) report(ctx context.Context, err error) {
	var te *adapter.TransportError

	switch {
	case errors.Is(err, chat.ErrBusy):
		x.term.Printf("still waiting for a reply")
	case errors.Is(err, chat.ErrStaleResult), errors.Is(err, chat.ErrEmptyMessage):
		// nothing to show
	case errors.Is(err, chat.ErrResetNotConfirmed):
		x.term.Printf("reset cancelled")
	case errors.Is(err, chat.ErrSessionDeleteFailed):
		// already notified by the client
	case errors.Is(err, chat.ErrPropertyNotFound):
		x.term.Printf("that property is not in the current recommendations")
	case errors.Is(err, chat.ErrInvalidPreference), errors.Is(err, chat.ErrInvalidFeedback):
		x.term.Printf("%s", err.Error())
	case errors.As(err, &te):
		x.term.Printf("the service is not available right now")
	default:
		logging.From(ctx).Error("command failed", "error", err)
		x.term.Printf("error: %s", err.Error())
	}
}
