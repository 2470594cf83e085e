// Package variable implements the variable service: reads, enumeration
// and policy-enforced writes against the persistent store.
package variable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/varpol/internal/auth"
	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/store"
)

// Store is the persistent side of the service.
type Store interface {
	engine.VariableReader
	PutVariable(ctx context.Context, v ir.Variable) error
	DeleteVariable(ctx context.Context, key ir.VariableKey) error
	ListVariables(ctx context.Context, ns *ir.Namespace) ([]ir.Variable, error)
}

// SetRequest is a write. Empty Data deletes the variable. For time-based
// authenticated variables Data is the authenticated payload.
type SetRequest struct {
	Namespace  ir.Namespace
	Name       string
	Attributes ir.Attributes
	Data       []byte
}

// Key returns the target variable identity.
func (r SetRequest) Key() ir.VariableKey {
	return ir.VariableKey{Namespace: r.Namespace, Name: r.Name}
}

// Service runs every write through the authenticated validator (when the
// variable requires it), then the policy engine, then commits it. The
// three steps happen inside the engine's critical section.
type Service struct {
	engine    *engine.Engine
	store     Store
	validator *auth.Validator
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a service. validator may be nil, in which case writes to
// time-based authenticated variables fail Unsupported.
func New(eng *engine.Engine, st Store, validator *auth.Validator, opts ...Option) *Service {
	s := &Service{
		engine:    eng,
		store:     st,
		validator: validator,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the variable for key. Fails NotFound if it does not exist.
func (s *Service) Get(ctx context.Context, key ir.VariableKey) (ir.Variable, error) {
	v, found, err := s.store.Lookup(ctx, key)
	if err != nil {
		return ir.Variable{}, fmt.Errorf("get: %w", err)
	}
	if !found {
		return ir.Variable{}, engine.NewError("get", engine.ErrCodeNotFound, "%s does not exist", key)
	}
	return v, nil
}

// Enumerate lists variables, optionally restricted to ns.
func (s *Service) Enumerate(ctx context.Context, ns *ir.Namespace) ([]ir.Variable, error) {
	vars, err := s.store.ListVariables(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	return vars, nil
}

// Set validates, authorizes and commits req.
//
// Errors: InvalidParameter for a bad name or an attribute change on an
// authenticated variable, SecurityViolation from the validator,
// WriteProtected from the policy engine, NotFound when deleting a
// variable that does not exist.
func (s *Service) Set(ctx context.Context, req SetRequest) error {
	const op = "set"
	key := req.Key()

	if err := ir.ValidateName(req.Name); err != nil || req.Name == "" {
		return engine.NewError(op, engine.ErrCodeInvalidParameter, "invalid variable name %q", req.Name)
	}

	return s.engine.Exclusive(func(sec engine.Section) error {
		prior, exists, err := s.store.Lookup(ctx, key)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		authenticated := req.Attributes.TimeBasedAuthenticated() ||
			(exists && prior.Attributes.TimeBasedAuthenticated())

		next := ir.Variable{Namespace: req.Namespace, Name: req.Name, Attributes: req.Attributes, Data: req.Data}
		if authenticated {
			if exists && len(req.Data) > 0 && req.Attributes != prior.Attributes {
				return engine.NewError(op, engine.ErrCodeInvalidParameter,
					"%s: attributes %s differ from stored %s", key, req.Attributes, prior.Attributes)
			}
			if s.validator == nil {
				return engine.NewError(op, engine.ErrCodeUnsupported, "%s: authenticated writes are not configured", key)
			}
			var priorPtr *ir.Variable
			if exists {
				priorPtr = &prior
			}
			res, err := s.validator.Validate(ctx, sec.Enabled(), auth.Request{
				Namespace:  req.Namespace,
				Name:       req.Name,
				Attributes: req.Attributes,
				Payload:    req.Data,
				Prior:      priorPtr,
			})
			if err != nil {
				return err
			}
			next.Data = res.Data
			next.Timestamp = res.Timestamp
			next.Signer = res.Signer
		}

		if err := sec.Authorize(ctx, engine.WriteRequest{
			Namespace:  req.Namespace,
			Name:       req.Name,
			Attributes: req.Attributes,
			Size:       len(next.Data),
			Exists:     exists,
		}); err != nil {
			return err
		}

		if len(next.Data) == 0 {
			return s.delete(ctx, key, exists)
		}
		if err := s.store.PutVariable(ctx, next); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Debug("variable written",
			"variable", key.String(),
			"attributes", next.Attributes.String(),
			"size", len(next.Data),
			"authenticated", authenticated)
		return nil
	})
}

func (s *Service) delete(ctx context.Context, key ir.VariableKey, exists bool) error {
	if !exists {
		return engine.NewError("delete", engine.ErrCodeNotFound, "%s does not exist", key)
	}
	err := s.store.DeleteVariable(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NewError("delete", engine.ErrCodeNotFound, "%s does not exist", key)
	}
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	s.logger.Debug("variable deleted", "variable", key.String())
	return nil
}
