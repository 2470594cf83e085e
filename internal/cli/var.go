package cli

import (
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/varpol/internal/auth"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/store"
	"github.com/roach88/varpol/internal/variable"
)

// VariableResult is one stored variable.
type VariableResult struct {
	Namespace  string `json:"namespace"`
	Name       string `json:"name"`
	Attributes string `json:"attributes"`
	Size       int    `json:"size"`
	Data       string `json:"data"` // hex
	Timestamp  string `json:"timestamp,omitempty"`
	Signer     string `json:"signer,omitempty"`
}

func newVariableResult(v ir.Variable) VariableResult {
	r := VariableResult{
		Namespace:  v.Namespace.String(),
		Name:       v.Name,
		Attributes: v.Attributes.String(),
		Size:       len(v.Data),
		Data:       hex.EncodeToString(v.Data),
		Signer:     v.Signer,
	}
	if !v.Timestamp.IsZero() {
		r.Timestamp = v.Timestamp.String()
	}
	return r
}

func (r VariableResult) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s:%s %s %d bytes", r.Namespace, r.Name, r.Attributes, r.Size)
	if r.Timestamp != "" {
		fmt.Fprintf(&buf, " @%s", r.Timestamp)
	}
	if r.Signer != "" {
		fmt.Fprintf(&buf, " signer=%s", r.Signer)
	}
	fmt.Fprintf(&buf, "\n  %s", r.Data)
	return buf.String()
}

// VariableList is the result of var list.
type VariableList struct {
	Variables []VariableResult `json:"variables"`
}

func (l VariableList) String() string {
	if len(l.Variables) == 0 {
		return "No variables."
	}
	lines := make([]string, len(l.Variables))
	for i, v := range l.Variables {
		lines[i] = fmt.Sprintf("%s:%s %s %d bytes", v.Namespace, v.Name, v.Attributes, v.Size)
	}
	return strings.Join(lines, "\n")
}

// WriteResult reports a committed write or delete.
type WriteResult struct {
	Variable string `json:"variable"`
	Deleted  bool   `json:"deleted"`
	Size     int    `json:"size"`
}

func (r WriteResult) String() string {
	if r.Deleted {
		return "✓ Deleted " + r.Variable
	}
	return fmt.Sprintf("✓ Wrote %s (%d bytes)", r.Variable, r.Size)
}

// NewVarCommand creates the var command group.
func NewVarCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "var",
		Short: "Read and write variables under policy enforcement",
	}

	cmd.AddCommand(newVarSetCommand(rootOpts))
	cmd.AddCommand(newVarGetCommand(rootOpts))
	cmd.AddCommand(newVarDeleteCommand(rootOpts))
	cmd.AddCommand(newVarListCommand(rootOpts))

	return cmd
}

// signOptions are the flags that turn a write into an authenticated one.
type signOptions struct {
	Key       string
	Cert      string
	Timestamp string
}

func (o *signOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Key, "sign-key", "", "PEM private key that signs an authenticated write")
	cmd.Flags().StringVar(&o.Cert, "sign-cert", "", "PEM certificate chain of the signer, leaf first")
	cmd.Flags().StringVar(&o.Timestamp, "timestamp", "", "RFC 3339 timestamp of an authenticated write (default now)")
	cmd.MarkFlagsRequiredTogether("sign-key", "sign-cert")
}

func (o *signOptions) enabled() bool { return o.Key != "" }

// seal wraps data in a signed authenticated payload.
func (o *signOptions) seal(ns ir.Namespace, name string, attrs ir.Attributes, data []byte) ([]byte, error) {
	signer, err := loadSigner(o.Key, o.Cert)
	if err != nil {
		return nil, err
	}
	when := time.Now()
	if o.Timestamp != "" {
		if when, err = time.Parse(time.RFC3339, o.Timestamp); err != nil {
			return nil, fmt.Errorf("invalid --timestamp: %w", err)
		}
	}
	return signer.Seal(ns, name, attrs, ir.TimestampFromTime(when), data)
}

func newVarSetCommand(opts *RootOptions) *cobra.Command {
	var (
		attrs    string
		data     string
		dataFile string
		sign     signOptions
	)
	cmd := &cobra.Command{
		Use:   "set <namespace> <name>",
		Short: "Write a variable",
		Long: `Write a variable. The write is checked against the registered
policies and, for time-based authenticated variables (attribute AT),
against the stored signer and timestamp.

Exit codes:
  0 - Written
  1 - Denied (WRITE_PROTECTED, SECURITY_VIOLATION, INVALID_PARAMETER, ...)
  2 - Command error`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			req, err := setRequest(args, attrs)
			if err != nil {
				return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid arguments", err, nil)
			}
			switch {
			case dataFile != "":
				req.Data, err = os.ReadFile(dataFile)
			default:
				req.Data, err = hex.DecodeString(data)
			}
			if err != nil {
				return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid data", err, nil)
			}
			if len(req.Data) == 0 {
				return f.FailWith(ExitCommandError, ErrCodeCommand, "no data given; use var delete to delete", nil, nil)
			}
			size := len(req.Data)
			if sign.enabled() {
				if req.Data, err = sign.seal(req.Namespace, req.Name, req.Attributes, req.Data); err != nil {
					return f.FailWith(ExitCommandError, ErrCodeCommand, "failed to sign", err, nil)
				}
			}
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				if err := rt.service.Set(cmd.Context(), req); err != nil {
					return f.Fail("set "+args[1], err)
				}
				return f.Success(WriteResult{Variable: req.Key().String(), Size: size})
			})
		},
	}
	cmd.Flags().StringVarP(&attrs, "attrs", "a", "NV|BS|RT", "attributes (short names or numeric mask)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "data as hex")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "read data from a file")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	sign.register(cmd)
	return cmd
}

func newVarDeleteCommand(opts *RootOptions) *cobra.Command {
	var (
		attrs string
		sign  signOptions
	)
	cmd := &cobra.Command{
		Use:   "delete <namespace> <name>",
		Short: "Delete a variable",
		Long: `Delete a variable. Locked variables cannot be deleted. Authenticated
variables need a signed empty payload (--sign-key and --sign-cert).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			req, err := setRequest(args, attrs)
			if err != nil {
				return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid arguments", err, nil)
			}
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				if sign.enabled() {
					if !cmd.Flags().Changed("attrs") {
						if prior, err := rt.service.Get(cmd.Context(), req.Key()); err == nil {
							req.Attributes = prior.Attributes
						}
					}
					if req.Data, err = sign.seal(req.Namespace, req.Name, req.Attributes, nil); err != nil {
						return f.FailWith(ExitCommandError, ErrCodeCommand, "failed to sign", err, nil)
					}
				}
				if err := rt.service.Set(cmd.Context(), req); err != nil {
					return f.Fail("delete "+args[1], err)
				}
				return f.Success(WriteResult{Variable: req.Key().String(), Deleted: true})
			})
		},
	}
	cmd.Flags().StringVarP(&attrs, "attrs", "a", "0", "attributes of the delete request")
	sign.register(cmd)
	return cmd
}

func newVarGetCommand(opts *RootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <namespace> <name>",
		Short: "Read a variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			ns, err := ir.ParseNamespace(args[0])
			if err != nil {
				return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid namespace", err, nil)
			}
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				v, err := rt.service.Get(cmd.Context(), ir.VariableKey{Namespace: ns, Name: args[1]})
				if err != nil {
					return f.Fail("get "+args[1], err)
				}
				if raw {
					_, err := cmd.OutOrStdout().Write(v.Data)
					return err
				}
				return f.Success(newVariableResult(v))
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write only the raw data bytes")
	return cmd
}

func newVarListCommand(opts *RootOptions) *cobra.Command {
	var (
		namespace, prefix, hasAttrs string
		authenticated               bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List variables",
		Long: `List stored variables ordered by namespace then name.

Examples:
  varpol var list
  varpol var list -n 3b389299-abaf-433b-a4a9-23c84402fcad --name-prefix Boot
  varpol var list --has-attrs NV|RT
  varpol var list --authenticated=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			var filter store.Filter
			if namespace != "" {
				ns, err := ir.ParseNamespace(namespace)
				if err != nil {
					return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid namespace", err, nil)
				}
				filter.Namespace = &ns
			}
			filter.NamePrefix = prefix
			if hasAttrs != "" {
				a, err := ir.ParseAttributes(hasAttrs)
				if err != nil {
					return f.FailWith(ExitCommandError, ErrCodeCommand, "invalid attributes", err, nil)
				}
				filter.MustHave = a
			}
			if cmd.Flags().Changed("authenticated") {
				filter.Signed = &authenticated
			}
			return withRuntime(cmd.Context(), opts, f, func(rt *runtime) error {
				var (
					vars []ir.Variable
					err  error
				)
				if filter.NamePrefix == "" && filter.MustHave == 0 && filter.Signed == nil {
					vars, err = rt.service.Enumerate(cmd.Context(), filter.Namespace)
				} else {
					vars, err = rt.store.FindVariables(cmd.Context(), filter)
				}
				if err != nil {
					return f.Fail("list", err)
				}
				list := VariableList{Variables: make([]VariableResult, len(vars))}
				for i, v := range vars {
					list.Variables[i] = newVariableResult(v)
				}
				return f.Success(list)
			})
		},
	}
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "only list variables in this namespace")
	cmd.Flags().StringVar(&prefix, "name-prefix", "", "only list names starting with this prefix (case sensitive)")
	cmd.Flags().StringVar(&hasAttrs, "has-attrs", "", "only list variables carrying all of these attributes")
	cmd.Flags().BoolVar(&authenticated, "authenticated", false, "only list variables with (true) or without (false) a recorded signer")
	return cmd
}

func setRequest(args []string, attrs string) (variable.SetRequest, error) {
	ns, err := ir.ParseNamespace(args[0])
	if err != nil {
		return variable.SetRequest{}, fmt.Errorf("namespace: %w", err)
	}
	a, err := ir.ParseAttributes(attrs)
	if err != nil {
		return variable.SetRequest{}, fmt.Errorf("attributes: %w", err)
	}
	return variable.SetRequest{Namespace: ns, Name: args[1], Attributes: a}, nil
}

// loadSigner reads a PEM private key (PKCS#8, EC or PKCS#1) and a PEM
// certificate chain.
func loadSigner(keyPath, certPath string) (*auth.JWSSigner, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", keyPath)
	}
	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", keyPath, err)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	var chain []*x509.Certificate
	for rest := certPEM; ; {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			break
		}
		if b.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(b.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %s: %w", certPath, err)
		}
		chain = append(chain, c)
	}
	return auth.NewJWSSigner(key, chain...)
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("key type %T cannot sign", k)
		}
		return signer, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}
