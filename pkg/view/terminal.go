package view

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/model"
	"github.com/m-mizutani/reagent/pkg/policy"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
)

// Grouper arranges preference categories into panel sections.
type Grouper interface {
	Group(ctx context.Context, categories []string) ([]policy.Group, error)
}

// SlashCommands are completed by the interactive prompt.
var SlashCommands = []string{
	"/help", "/recs", "/show", "/close", "/prefs", "/like", "/dislike",
	"/set", "/forget", "/reset", "/session", "/exit",
}

const prompt = "you> "

// Terminal renders client state as a line-oriented transcript. Transcript
// entries are printed once; a new session prints a separator and starts over.
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	in      *bufio.Reader
	rl      *readline.Instance
	spin    *spinner.Spinner
	grouper Grouper

	sessionID model.SessionID
	printed   int
}

type TerminalOption func(*Terminal)

// WithGrouper sets the policy used to section the preferences panel
func WithGrouper(g Grouper) TerminalOption {
	return func(t *Terminal) {
		t.grouper = g
	}
}

// WithInput sets the reader used by Confirm when there is no interactive
// prompt
func WithInput(r io.Reader) TerminalOption {
	return func(t *Terminal) {
		t.in = bufio.NewReader(r)
	}
}

// NewTerminal returns a non-interactive Terminal writing to w.
func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{w: w}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OpenTerminal starts an interactive prompt with line editing, history and
// slash command completion. Output goes through the prompt so that it does
// not break the line being typed.
func OpenTerminal(historyFile string, opts ...TerminalOption) (*Terminal, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(SlashCommands))
	for _, c := range SlashCommands {
		items = append(items, readline.PcItem(c))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open prompt")
	}

	t := NewTerminal(rl.Stdout(), opts...)
	t.rl = rl
	t.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(rl.Stdout()),
		spinner.WithSuffix(" composing a reply..."),
	)
	return t, nil
}

// ReadLine reads one line of user input. Ctrl-C on an empty line and Ctrl-D
// return io.EOF.
func (t *Terminal) ReadLine() (string, error) {
	if t.rl == nil {
		return "", goerr.New("terminal is not interactive")
	}

	line, err := t.rl.Readline()
	if err == readline.ErrInterrupt {
		if len(line) == 0 {
			return "", io.EOF
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (t *Terminal) Close() error {
	if t.spin != nil {
		t.spin.Stop()
	}
	if t.rl != nil {
		return t.rl.Close()
	}
	return nil
}

// Confirm asks a yes/no question. Anything but "y" or "yes" is a no.
func (t *Terminal) Confirm(question string) bool {
	var answer string
	switch {
	case t.rl != nil:
		t.rl.SetPrompt(question + " [y/N]: ")
		line, err := t.rl.Readline()
		t.rl.SetPrompt(prompt)
		if err != nil {
			return false
		}
		answer = line

	case t.in != nil:
		t.mu.Lock()
		fmt.Fprintf(t.w, "%s [y/N]: ", question)
		t.mu.Unlock()
		line, err := t.in.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		answer = line

	default:
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Printf writes a line outside of the transcript, e.g. command output.
func (t *Terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format+"\n", args...)
}

func (t *Terminal) Notify(_ context.Context, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopSpinner()
	fmt.Fprintf(t.w, "(!) %s\n", message)
}

func (t *Terminal) Render(ctx context.Context, snap *model.Snapshot, change model.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopSpinner()
	defer func() {
		if snap.UI.AwaitingReply {
			t.startSpinner()
		}
	}()

	if snap.SessionID != t.sessionID || len(snap.Messages) < t.printed {
		if t.sessionID != "" {
			fmt.Fprintf(t.w, "---- new session %s ----\n", snap.SessionID)
		}
		t.sessionID = snap.SessionID
		t.printed = 0
	} else if change.Has(model.ChangeTranscriptReset) {
		if t.printed > 0 {
			fmt.Fprintln(t.w, "---- conversation restored ----")
		}
		t.printed = 0
	}

	if t.printed < len(snap.Messages) {
		for _, msg := range snap.Messages[t.printed:] {
			writeMessage(t.w, msg)
		}
		t.printed = len(snap.Messages)
	}

	if change.Has(model.ChangeRecommendations) && len(snap.Recommendations) > 0 {
		fmt.Fprintf(t.w, "[%d recommendations] type /recs to list them\n", len(snap.Recommendations))
	}

	switch snap.UI.ActiveModal {
	case model.ModalPreferences:
		if change.Has(model.ChangeModal | model.ChangePreferences) {
			t.writePreferences(ctx, snap)
		}
		if change.Has(model.ChangeInsights) && snap.Insights != nil {
			writeInsights(t.w, snap.Insights)
		}

	case model.ModalPropertyDetail:
		if change.Has(model.ChangeModal) {
			if r := snap.SelectedProperty(); r != nil {
				writeProperty(t.w, r)
			}
		}
	}
}

// PrintTranscript prints all messages, regardless of what was shown before.
func (t *Terminal) PrintTranscript(messages []*model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range messages {
		writeMessage(t.w, msg)
	}
}

func (t *Terminal) PrintRecommendations(recs []*model.Recommendation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(recs) == 0 {
		fmt.Fprintln(t.w, "No recommendations yet.")
		return
	}
	for i, r := range recs {
		fmt.Fprintf(t.w, "%d. %s\n", i+1, summarizeProperty(r))
	}
}

func (t *Terminal) PrintProperty(r *model.Recommendation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	writeProperty(t.w, r)
}

func (t *Terminal) PrintPreferences(ctx context.Context, snap *model.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writePreferences(ctx, snap)
}

func (t *Terminal) PrintInsights(insights *model.Insights) {
	t.mu.Lock()
	defer t.mu.Unlock()
	writeInsights(t.w, insights)
}

func (t *Terminal) startSpinner() {
	if t.spin != nil {
		t.spin.Start()
	}
}

func (t *Terminal) stopSpinner() {
	if t.spin != nil {
		t.spin.Stop()
	}
}

func writeMessage(w io.Writer, msg *model.Message) {
	switch {
	case msg.Role == model.RoleUser:
		fmt.Fprintf(w, "you> %s\n", msg.Text)
	case msg.Failed:
		fmt.Fprintf(w, "reagent> (!) %s\n", msg.Text)
	default:
		fmt.Fprintf(w, "reagent> %s\n", msg.Text)
	}
}

func summarizeProperty(r *model.Recommendation) string {
	parts := []string{"[" + r.PropertyID + "]", r.Title, r.DisplayPrice()}
	if rooms := rooms(r); rooms != "" {
		parts = append(parts, rooms)
	}
	if r.Location != "" {
		parts = append(parts, r.Location)
	}
	line := strings.Join(parts, " | ")
	if pct, ok := r.MatchPercent(); ok {
		line += fmt.Sprintf(" (%d%% match)", pct)
	}
	return line
}

func rooms(r *model.Recommendation) string {
	var parts []string
	if r.Bedrooms != nil {
		parts = append(parts, fmt.Sprintf("%d bed", *r.Bedrooms))
	}
	if r.Bathrooms != nil {
		parts = append(parts, fmt.Sprintf("%d bath", *r.Bathrooms))
	}
	return strings.Join(parts, " / ")
}

func writeProperty(w io.Writer, r *model.Recommendation) {
	fmt.Fprintf(w, "== %s ==\n", r.Title)
	fmt.Fprintf(w, "  id:       %s\n", r.PropertyID)
	fmt.Fprintf(w, "  price:    %s\n", r.DisplayPrice())
	if pct, ok := r.MatchPercent(); ok {
		fmt.Fprintf(w, "  match:    %d%%\n", pct)
	}

	location := strings.TrimSpace(strings.Join([]string{r.Location, r.Postcode}, " "))
	if location != "" {
		fmt.Fprintf(w, "  location: %s\n", location)
	}
	if rooms := rooms(r); rooms != "" {
		fmt.Fprintf(w, "  rooms:    %s\n", rooms)
	}
	if r.PropertyType != "" {
		fmt.Fprintf(w, "  type:     %s\n", r.PropertyType)
	}
	if r.Platform != "" {
		fmt.Fprintf(w, "  source:   %s\n", r.Platform)
	}
	if r.URL != "" {
		fmt.Fprintf(w, "  url:      %s\n", r.URL)
	}
	if r.Description != "" {
		fmt.Fprintf(w, "\n  %s\n", r.Description)
	}

	writeList(w, "features", r.Features)
	writeList(w, "pros", r.Pros)
	writeList(w, "cons", r.Cons)

	if r.Reasoning != "" {
		fmt.Fprintf(w, "\n  why: %s\n", r.Reasoning)
	}
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "    - %s\n", item)
	}
}

func (t *Terminal) writePreferences(ctx context.Context, snap *model.Snapshot) {
	fmt.Fprintln(t.w, "== Preferences ==")
	if len(snap.Preferences) == 0 {
		fmt.Fprintln(t.w, "  No preferences learned yet.")
		return
	}
	if snap.PreferenceSummary != "" {
		fmt.Fprintf(t.w, "  %s\n", snap.PreferenceSummary)
	}

	categories := snap.Preferences.Categories()
	groups := []policy.Group{{Name: "All", Categories: categories}}
	if t.grouper != nil {
		g, err := t.grouper.Group(ctx, categories)
		if err != nil {
			logging.From(ctx).Warn("failed to group preferences", "error", err)
		} else {
			groups = g
		}
	}

	for _, g := range groups {
		fmt.Fprintf(t.w, "  [%s]\n", g.Name)
		for _, c := range g.Categories {
			p := snap.Preferences[c]
			if p == nil {
				continue
			}
			kind := "inferred"
			if p.IsExplicit {
				kind = "explicit"
			}
			fmt.Fprintf(t.w, "    %s: %s (%d%%, %s)\n", c, p.Value, confidencePercent(p.ConfidenceScore), kind)
		}
	}
}

func confidencePercent(score float64) int {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return int(score*100 + 0.5)
}

func writeInsights(w io.Writer, x *model.Insights) {
	fmt.Fprintln(w, "== Insights ==")
	if x.Narrative != "" {
		fmt.Fprintf(w, "  %s\n", x.Narrative)
	}
	fmt.Fprintf(w, "  total: %d, average confidence: %d%%, explicit: %d, inferred: %d\n",
		x.TotalPreferences, x.AverageConfidencePercent, x.ExplicitCount, x.ImplicitCount)
	fmt.Fprintf(w, "  confidence: high %d, medium %d, low %d\n",
		x.Distribution.High, x.Distribution.Medium, x.Distribution.Low)
}
