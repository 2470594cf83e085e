package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/varpol/internal/bundle"
	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
)

// StatusResult is the engine state reported by status, lock, disable
// and reset.
type StatusResult struct {
	Session     string `json:"session"`
	Enabled     bool   `json:"enabled"`
	Locked      bool   `json:"locked"`
	Policies    int    `json:"policies"`
	Fingerprint string `json:"fingerprint"`
}

func (r StatusResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Session:     %s\n", r.Session)
	fmt.Fprintf(&buf, "Enabled:     %t\n", r.Enabled)
	fmt.Fprintf(&buf, "Locked:      %t\n", r.Locked)
	fmt.Fprintf(&buf, "Policies:    %d\n", r.Policies)
	fmt.Fprintf(&buf, "Fingerprint: %s", r.Fingerprint)
	return buf.String()
}

// RegisterResult reports a bundle registration.
type RegisterResult struct {
	Bundle      string `json:"bundle"`
	Registered  int    `json:"registered"`
	Fingerprint string `json:"fingerprint"`
}

func (r RegisterResult) String() string {
	return fmt.Sprintf("✓ Registered %d policies from %s (table %s)", r.Registered, r.Bundle, r.Fingerprint)
}

// ValidateResult reports a bundle that compiled and registers cleanly.
type ValidateResult struct {
	Bundle   string      `json:"bundle"`
	Policies []ir.Policy `json:"policies"`
}

func (r ValidateResult) String() string {
	return fmt.Sprintf("✓ %s: %d policies valid", r.Bundle, len(r.Policies))
}

// DumpResult is a decoded policy table.
type DumpResult struct {
	Size        int         `json:"size"`
	Fingerprint string      `json:"fingerprint"`
	Policies    []ir.Policy `json:"policies"`
	Table       string      `json:"table"` // hex of the raw table

	hexDump bool
}

func (r DumpResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d policies, %d bytes, fingerprint %s", len(r.Policies), r.Size, r.Fingerprint)
	for i, p := range r.Policies {
		fmt.Fprintf(&buf, "\n  [%d] %s", i, describePolicy(p))
	}
	if r.hexDump && r.Size > 0 {
		raw, _ := hex.DecodeString(r.Table)
		buf.WriteString("\n\n")
		buf.WriteString(strings.TrimRight(hex.Dump(raw), "\n"))
	}
	return buf.String()
}

func describePolicy(p ir.Policy) string {
	var buf strings.Builder
	buf.WriteString(p.String())
	if p.MinSize != ir.NoMinSize || p.MaxSize != ir.NoMaxSize {
		maxSize := "max"
		if p.MaxSize != ir.NoMaxSize {
			maxSize = fmt.Sprint(p.MaxSize)
		}
		fmt.Fprintf(&buf, " size=%d..%s", p.MinSize, maxSize)
	}
	if p.MustHave != 0 {
		fmt.Fprintf(&buf, " must=%s", p.MustHave)
	}
	if p.CantHave != 0 {
		fmt.Fprintf(&buf, " cant=%s", p.CantHave)
	}
	if t := p.Trigger; t != nil {
		fmt.Fprintf(&buf, " when %s:%s=%x", t.Namespace, t.Name, t.Value)
	}
	return buf.String()
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the variable policy table",
	}

	cmd.AddCommand(newPolicyRegisterCommand(rootOpts))
	cmd.AddCommand(newPolicyValidateCommand(rootOpts))
	cmd.AddCommand(newPolicyDumpCommand(rootOpts))
	cmd.AddCommand(newPolicyStatusCommand(rootOpts))
	cmd.AddCommand(newPolicyLockCommand(rootOpts))
	cmd.AddCommand(newPolicyDisableCommand(rootOpts))
	cmd.AddCommand(newPolicyRequestLockCommand(rootOpts))

	return cmd
}

func newPolicyRegisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <bundle>",
		Short: "Register the policies of a CUE bundle",
		Long: `Register every policy declared in a CUE bundle (a file or a package
directory), in declaration order.

Registration stops at the first rejected policy; policies registered
before it stay registered.

Exit codes:
  0 - All policies registered
  1 - A policy was rejected (ALREADY_EXISTS, ALREADY_LOCKED, ...)
  2 - Command error (bundle does not compile, database error)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			b, err := bundle.Load(args[0])
			if err != nil {
				return failBundle(f, ExitCommandError, err)
			}
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				for i, p := range b.Policies {
					f.VerboseLog("registering %s", p)
					if err := rt.engine.Register(cmd.Context(), p); err != nil {
						return f.Fail(fmt.Sprintf("%s: policy %d (%s)", b.PositionOf(i), i, p), err)
					}
				}
				fp, err := rt.engine.Fingerprint()
				if err != nil {
					return f.Fail("fingerprint", err)
				}
				return f.Success(RegisterResult{Bundle: args[0], Registered: len(b.Policies), Fingerprint: fp})
			})
		},
	}
}

func newPolicyValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bundle>",
		Short: "Check a CUE bundle without registering it",
		Long: `Compile a CUE bundle and register it into an empty scratch engine,
reporting schema errors, malformed policies and duplicate targets with
their source positions. The database is not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			b, err := bundle.Load(args[0])
			if err != nil {
				return failBundle(f, ExitFailure, err)
			}
			scratch := engine.New(nil)
			for i, p := range b.Policies {
				if err := scratch.Register(cmd.Context(), p); err != nil {
					return f.Fail(fmt.Sprintf("%s: policy %d (%s)", b.PositionOf(i), i, p), err)
				}
			}
			return f.Success(ValidateResult{Bundle: args[0], Policies: b.Policies})
		},
	}
}

func failBundle(f *OutputFormatter, exit int, err error) error {
	var compileErr *bundle.CompileError
	if errors.As(err, &compileErr) {
		details := map[string]string{"field": compileErr.Field}
		if compileErr.Pos.IsValid() {
			details["position"] = compileErr.Pos.String()
		}
		return f.FailWith(exit, ErrCodeBundle, "invalid bundle", err, details)
	}
	return f.FailWith(ExitCommandError, ErrCodeBundle, "failed to load bundle", err, nil)
}

func newPolicyDumpCommand(opts *RootOptions) *cobra.Command {
	var (
		output  string
		hexDump bool
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump the registered policy table",
		Long: `Dump the policy table in registration order.

With --output the raw binary table is written to a file, in the same
layout the mailbox Dump command returns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				table, err := rt.engine.DumpTable()
				if err != nil {
					return f.Fail("dump", err)
				}
				policies, err := ir.ParsePolicyTable(table)
				if err != nil {
					return f.Fail("parse table", err)
				}
				fp, err := rt.engine.Fingerprint()
				if err != nil {
					return f.Fail("fingerprint", err)
				}
				if output != "" {
					if err := os.WriteFile(output, table, 0o644); err != nil {
						return f.Fail("write table", err)
					}
					f.VerboseLog("wrote %d bytes to %s", len(table), output)
				}
				if policies == nil {
					policies = []ir.Policy{}
				}
				return f.Success(DumpResult{
					Size:        len(table),
					Fingerprint: fp,
					Policies:    policies,
					Table:       hex.EncodeToString(table),
					hexDump:     hexDump,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the raw table to a file")
	cmd.Flags().BoolVar(&hexDump, "hex", false, "append a hex dump of the raw table (text format)")
	return cmd
}

func newPolicyStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the engine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				return reportStatus(f, rt)
			})
		},
	}
}

func newPolicyLockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the policy interface for the rest of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				if err := rt.engine.Lock(cmd.Context()); err != nil {
					return f.Fail("lock", err)
				}
				return reportStatus(f, rt)
			})
		},
	}
}

func newPolicyDisableCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable policy enforcement for the rest of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				if err := rt.engine.Disable(cmd.Context()); err != nil {
					return f.Fail("disable", err)
				}
				return reportStatus(f, rt)
			})
		},
	}
}

func newPolicyRequestLockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "request-lock <namespace> <name>",
		Short: "Make one variable read-only (legacy request-to-lock)",
		Long: `Register a LockNow policy for exactly one variable.

Succeeds without change if an exact-name LockNow policy for the
variable is already registered.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			ns, err := ir.ParseNamespace(args[0])
			if err != nil {
				return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid namespace", err, nil)
			}
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				if err := rt.shim.RequestToLock(cmd.Context(), ns, args[1]); err != nil {
					return f.Fail("request-lock", err)
				}
				return reportStatus(f, rt)
			})
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start a new boot session",
		Long: `Reinitialize the engine: clear the policy table, re-enable and
unlock the interface, and start a new boot session. Variables are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				if err := rt.engine.Reset(cmd.Context()); err != nil {
					return f.Fail("reset", err)
				}
				return reportStatus(f, rt)
			})
		},
	}
}

func reportStatus(f *OutputFormatter, rt *runtime) error {
	st := rt.engine.State()
	fp, err := rt.engine.Fingerprint()
	if err != nil {
		return f.Fail("fingerprint", err)
	}
	return f.Success(StatusResult{
		Session:     st.ID,
		Enabled:     st.Enabled,
		Locked:      st.Locked,
		Policies:    len(rt.engine.Policies()),
		Fingerprint: fp,
	})
}
