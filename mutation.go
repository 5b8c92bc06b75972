package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Outcome is the result of a successful mutation
type Outcome struct {
	Message string
	Data    json.RawMessage
}

// Operation describes one write against the backend. Path may contain an
// ":id" placeholder filled from Invocation.ID.
type Operation struct {
	Name        string
	Method      string
	Path        string
	Invalidates []Key
	// OnSuccess runs after the remote call succeeded and before invalidation
	OnSuccess func(Outcome) error
}

// Invocation carries the arguments of one Execute call
type Invocation struct {
	ID      string
	Payload any
}

var validate = newValidator()

// newValidator reports fields by their JSON names, the names forms use
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// MutationExecutor performs writes and invalidates the keys each operation
// declares once the backend confirmed the write
type MutationExecutor struct {
	client   *Client
	cache    *QueryCache
	config   *Config
	log      *slog.Logger
	notifier NotificationBridge

	mu      sync.Mutex
	pending map[string]int
}

// NewMutationExecutor creates an executor that sends writes through client and
// invalidates entries of cache
func NewMutationExecutor(client *Client, cache *QueryCache, opts ...Option) *MutationExecutor {
	config := newConfig(opts)
	return &MutationExecutor{
		client:   client,
		cache:    cache,
		config:   config,
		log:      config.Logger.With(slog.String("component", "mutation_executor")),
		notifier: config.Notifier,
		pending:  make(map[string]int),
	}
}

// Execute performs op. Concurrent calls are not deduplicated.
// Payloads carrying `validate` tags are checked first and rejected with a
// *ValidationError without any network I/O.
func (m *MutationExecutor) Execute(ctx context.Context, op Operation, in Invocation) (Outcome, error) {
	outcome, err := m.execute(ctx, op, in)
	m.publish(outcome, err)
	return outcome, err
}

func (m *MutationExecutor) execute(ctx context.Context, op Operation, in Invocation) (Outcome, error) {
	log := m.log.With(slog.String("operation", op.Name))

	if err := validatePayload(in.Payload); err != nil {
		log.Debug("payload rejected", slog.String("error", err.Error()))
		return Outcome{}, err
	}

	path := op.Path
	if strings.Contains(path, ":id") {
		if in.ID == "" {
			return Outcome{}, fmt.Errorf("%s: missing id", op.Name)
		}
		path = strings.Replace(path, ":id", url.PathEscape(in.ID), 1)
	}

	m.track(op.Name, 1)
	defer m.track(op.Name, -1)

	if m.config.MutationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.MutationTimeout)
		defer cancel()
	}

	var raw json.RawMessage
	if err := m.client.Do(ctx, op.Method, path, in.Payload, &raw); err != nil {
		log.Info("mutation failed", slog.String("error", err.Error()))
		return Outcome{}, err
	}

	outcome := Outcome{Data: raw}
	if len(raw) > 0 {
		var envelope struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil {
			outcome.Message = envelope.Message
		}
	}

	if op.OnSuccess != nil {
		if err := op.OnSuccess(outcome); err != nil {
			return Outcome{}, fmt.Errorf("%s: %w", op.Name, err)
		}
	}

	for _, key := range op.Invalidates {
		m.cache.Invalidate(key)
	}

	log.Info("mutation succeeded", slog.Int("invalidated_keys", len(op.Invalidates)))
	return outcome, nil
}

// Pending reports whether an operation with this name is in flight
func (m *MutationExecutor) Pending(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[name] > 0
}

func (m *MutationExecutor) track(name string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[name] += delta
	if m.pending[name] <= 0 {
		delete(m.pending, name)
	}
}

func (m *MutationExecutor) publish(outcome Outcome, err error) {
	if m.notifier == nil {
		return
	}
	if n, ok := NotificationFor(outcome, err); ok {
		m.notifier.Notify(n)
	}
}

// validatePayload runs struct validation on payloads that are structs or
// pointers to structs; other payloads pass through.
func validatePayload(payload any) error {
	if payload == nil {
		return nil
	}

	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Fields = append(verr.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return verr
}
