package policy

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed default/*.rego
var defaultPolicies embed.FS

const query = "data.panel"

// Group is a named section of the preferences panel.
type Group struct {
	Name       string
	Categories []string
}

// Grouper assigns preference categories to panel groups by evaluating the
// Rego package "panel". The package must define group[category] := name and
// may define default_group and order.
type Grouper struct {
	query *rego.PreparedEvalQuery
}

// printHook sends print() output of a policy to the debug log
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// New loads the *.rego files of policyDir. The embedded default policy is
// used when policyDir is empty.
func New(ctx context.Context, policyDir string) (*Grouper, error) {
	var modules []func(*rego.Rego)
	var err error

	if policyDir == "" {
		modules, err = loadEmbedded()
	} else {
		modules, err = loadDir(policyDir)
	}
	if err != nil {
		return nil, err
	}

	options := make([]func(*rego.Rego), 0, len(modules)+2)
	options = append(options, rego.Query(query), rego.EnablePrintStatements(true))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare panel policy", goerr.V("policy_dir", policyDir))
	}

	return &Grouper{query: &prepared}, nil
}

func loadEmbedded() ([]func(*rego.Rego), error) {
	files, err := fs.Glob(defaultPolicies, "default/*.rego")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob embedded policy files")
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := defaultPolicies.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read embedded policy", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

func loadDir(policyDir string) ([]func(*rego.Rego), error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("policy_dir", policyDir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("policy_dir", policyDir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// Group returns the non-empty groups for categories. Groups listed in the
// policy's order come first, the rest follow by name. Categories inside a
// group are sorted.
func (g *Grouper) Group(ctx context.Context, categories []string) ([]Group, error) {
	input := make([]any, len(categories))
	for i, c := range categories {
		input[i] = c
	}

	rs, err := g.query.Eval(ctx,
		rego.EvalInput(map[string]any{"categories": input}),
		rego.EvalPrintHook(&printHook{ctx: ctx}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate panel policy")
	}

	result := map[string]any{}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if v, ok := rs[0].Expressions[0].Value.(map[string]any); ok {
			result = v
		}
	}

	defaultGroup := "Other"
	if v, ok := result["default_group"].(string); ok && v != "" {
		defaultGroup = v
	}
	assigned, _ := result["group"].(map[string]any)

	members := map[string][]string{}
	for _, c := range categories {
		name := defaultGroup
		if v, ok := assigned[c].(string); ok && v != "" {
			name = v
		}
		members[name] = append(members[name], c)
	}

	var groups []Group
	seen := map[string]bool{}
	if order, ok := result["order"].([]any); ok {
		for _, o := range order {
			name, ok := o.(string)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			if cats, ok := members[name]; ok {
				sort.Strings(cats)
				groups = append(groups, Group{Name: name, Categories: cats})
			}
		}
	}

	var rest []string
	for name := range members {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		cats := members[name]
		sort.Strings(cats)
		groups = append(groups, Group{Name: name, Categories: cats})
	}

	return groups, nil
}
