// Package bundle loads policy bundles written in CUE.
//
// A bundle declares a top-level list of policies:
//
//	policies: [
//		{namespace: "3b389299-abaf-433b-a4a9-23c84402fcad", name: "BootOrder", lock: "lock_now"},
//		{namespace: "3b389299-abaf-433b-a4a9-23c84402fcad", name: "Var##", max_size: 64, must_have: ["NV", "BS"]},
//	]
//
// Bundles are unified with an embedded schema before decoding, so field
// typos and out-of-range values are reported with source positions.
package bundle

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/varpol/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Bundle is a decoded policy bundle.
type Bundle struct {
	Path     string
	Policies []ir.Policy
	// Positions holds the source position of each policy, by index.
	Positions []token.Pos
}

// PositionOf renders the source position of policy i as file:line:col,
// falling back to the bundle path.
func (b *Bundle) PositionOf(i int) string {
	if i < len(b.Positions) && b.Positions[i].IsValid() {
		p := b.Positions[i]
		return fmt.Sprintf("%s:%d:%d", p.Filename(), p.Line(), p.Column())
	}
	return b.Path
}

// CompileError reports a bundle that failed schema or policy validation.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// entry mirrors #Policy in the schema.
type entry struct {
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	MinSize   *uint32  `json:"min_size"`
	MaxSize   *uint32  `json:"max_size"`
	MustHave  []string `json:"must_have"`
	CantHave  []string `json:"cant_have"`
	Lock      string   `json:"lock"`
	Trigger   *struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
		Value     uint8  `json:"value"`
	} `json:"trigger"`
}

// Load reads a bundle from a .cue file or from a directory holding one CUE
// package.
func Load(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	ctx := cuecontext.New()
	var v cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(instances) == 0 {
			return nil, fmt.Errorf("bundle: no CUE instances in %s", path)
		}
		if err := instances[0].Err; err != nil {
			return nil, formatCUEError(err)
		}
		v = ctx.BuildInstance(instances[0])
	} else {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("bundle: %w", err)
		}
		v = ctx.CompileBytes(src, cue.Filename(path))
	}

	b, err := compile(ctx, v)
	if err != nil {
		return nil, err
	}
	b.Path = path
	return b, nil
}

// Parse compiles bundle source held in memory. filename is used only for
// error positions.
func Parse(filename string, src []byte) (*Bundle, error) {
	ctx := cuecontext.New()
	b, err := compile(ctx, ctx.CompileBytes(src, cue.Filename(filename)))
	if err != nil {
		return nil, err
	}
	b.Path = filename
	return b, nil
}

func compile(ctx *cue.Context, v cue.Value) (*Bundle, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("bundle schema: %w", err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	path := cue.ParsePath("policies")
	iter, err := unified.LookupPath(path).List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	b := &Bundle{}
	for i := 0; iter.Next(); i++ {
		pos := v.LookupPath(path).LookupPath(cue.MakePath(cue.Index(i))).Pos()
		p, err := compilePolicy(iter.Value())
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("policies[%d]", i),
				Message: err.Error(),
				Pos:     pos,
			}
		}
		b.Policies = append(b.Policies, p)
		b.Positions = append(b.Positions, pos)
	}
	return b, nil
}

func compilePolicy(v cue.Value) (ir.Policy, error) {
	var e entry
	if err := v.Decode(&e); err != nil {
		return ir.Policy{}, err
	}

	ns, err := ir.ParseNamespace(e.Namespace)
	if err != nil {
		return ir.Policy{}, err
	}
	lock, err := ir.ParseLockType(e.Lock)
	if err != nil {
		return ir.Policy{}, err
	}

	p := ir.NewPolicy(ns, e.Name, lock)
	if e.MinSize != nil {
		p.MinSize = *e.MinSize
	}
	if e.MaxSize != nil {
		p.MaxSize = *e.MaxSize
	}
	if p.MustHave, err = ir.ParseAttributes(strings.Join(e.MustHave, "|")); err != nil {
		return ir.Policy{}, err
	}
	if p.CantHave, err = ir.ParseAttributes(strings.Join(e.CantHave, "|")); err != nil {
		return ir.Policy{}, err
	}
	if e.Trigger != nil {
		tns, err := ir.ParseNamespace(e.Trigger.Namespace)
		if err != nil {
			return ir.Policy{}, err
		}
		p.Trigger = &ir.Trigger{Namespace: tns, Name: e.Trigger.Name, Value: []byte{e.Trigger.Value}}
	}

	if err := p.Validate(); err != nil {
		return ir.Policy{}, err
	}
	return p, nil
}

// formatCUEError reduces a CUE error list to its first error, keeping the
// position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
