// Package guc implements a small registry of typed runtime parameters
// ("grand unified configuration" variables) and the config cells backing
// them.
//
// A variable is defined once with its bounds, the context in which it may
// change, and an assign hook that receives every accepted value. Values are
// range-checked before the hook runs. Postmaster-context variables become
// read-only once the registry is frozen at the end of startup.
package guc

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/pgweb/internal/logger"
)

// Context says when a variable may be changed.
type Context int

const (
	// ContextPostmaster variables are fixed once the host has started.
	ContextPostmaster Context = iota
	// ContextSighup variables may be reloaded at any time.
	ContextSighup
)

func (c Context) String() string {
	switch c {
	case ContextPostmaster:
		return "postmaster"
	case ContextSighup:
		return "sighup"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownVariable = errors.New("unrecognized configuration parameter")
	ErrDuplicate       = errors.New("configuration parameter already defined")
	ErrRestartRequired = errors.New("cannot be changed without restarting the server")
	ErrInvalidValue    = errors.New("invalid value for parameter")
	ErrTypeMismatch    = errors.New("parameter has a different type")
)

// RangeError reports an integer outside a variable's bounds.
type RangeError struct {
	Name     string
	Value    int
	Min, Max int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%d is outside the valid range for parameter %q (%d .. %d)", e.Value, e.Name, e.Min, e.Max)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidValue).
func (e *RangeError) Unwrap() error { return ErrInvalidValue }

// IntVariable describes an integer parameter.
type IntVariable struct {
	Name        string
	Description string
	Default     int
	Min, Max    int
	Context     Context
	// Assign is called with every accepted value, including the default.
	Assign func(int) error
}

// EnumVariable describes a parameter restricted to a set of strings.
type EnumVariable struct {
	Name        string
	Description string
	Default     string
	Options     []string
	Context     Context
	Assign      func(string) error
}

type variable struct {
	name    string
	desc    string
	context Context

	isInt   bool
	intVal  int
	min     int
	max     int
	options []string
	strVal  string

	assignInt func(int) error
	assignStr func(string) error
}

func (v *variable) display() string {
	if v.isInt {
		return fmt.Sprintf("%d", v.intVal)
	}
	return v.strVal
}

// Registry holds defined variables.
type Registry struct {
	mu     sync.Mutex
	vars   map[string]*variable
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{vars: make(map[string]*variable)}
}

// DefineInt registers an integer variable and assigns its default.
func (r *Registry) DefineInt(def IntVariable) error {
	if def.Min > def.Max || def.Default < def.Min || def.Default > def.Max {
		return fmt.Errorf("define %s: default %d outside %d .. %d: %w", def.Name, def.Default, def.Min, def.Max, ErrInvalidValue)
	}

	v := &variable{
		name:      strings.ToLower(def.Name),
		desc:      def.Description,
		context:   def.Context,
		isInt:     true,
		intVal:    def.Default,
		min:       def.Min,
		max:       def.Max,
		assignInt: def.Assign,
	}
	return r.define(v, func() error {
		if v.assignInt != nil {
			return v.assignInt(def.Default)
		}
		return nil
	})
}

// DefineEnum registers an enum variable and assigns its default.
func (r *Registry) DefineEnum(def EnumVariable) error {
	if !slices.Contains(def.Options, def.Default) {
		return fmt.Errorf("define %s: default %q not in options: %w", def.Name, def.Default, ErrInvalidValue)
	}

	v := &variable{
		name:      strings.ToLower(def.Name),
		desc:      def.Description,
		context:   def.Context,
		options:   slices.Clone(def.Options),
		strVal:    def.Default,
		assignStr: def.Assign,
	}
	return r.define(v, func() error {
		if v.assignStr != nil {
			return v.assignStr(def.Default)
		}
		return nil
	})
}

func (r *Registry) define(v *variable, assignDefault func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vars[v.name]; ok {
		return fmt.Errorf("%s: %w", v.name, ErrDuplicate)
	}
	if err := assignDefault(); err != nil {
		return fmt.Errorf("assign default for %s: %w", v.name, err)
	}
	r.vars[v.name] = v
	return nil
}

// Freeze marks the end of startup. Postmaster-context variables reject
// changes from now on.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

func (r *Registry) lookup(name string) (*variable, error) {
	v, ok := r.vars[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVariable, name)
	}
	return v, nil
}

// checkContext must be called with r.mu held.
func (r *Registry) checkContext(v *variable, changed bool) error {
	if changed && r.frozen && v.context == ContextPostmaster {
		return fmt.Errorf("parameter %q %w", v.name, ErrRestartRequired)
	}
	return nil
}

// SetInt validates and assigns an integer variable.
// Setting a frozen postmaster variable to its current value is a no-op.
func (r *Registry) SetInt(name string, value int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.lookup(name)
	if err != nil {
		return err
	}
	if !v.isInt {
		return fmt.Errorf("%s: %w", v.name, ErrTypeMismatch)
	}
	if value < v.min || value > v.max {
		return &RangeError{Name: v.name, Value: value, Min: v.min, Max: v.max}
	}
	if err := r.checkContext(v, value != v.intVal); err != nil {
		return err
	}
	if v.assignInt != nil {
		if err := v.assignInt(value); err != nil {
			return fmt.Errorf("assign %s: %w", v.name, err)
		}
	}
	v.intVal = value
	return nil
}

// SetEnum validates and assigns an enum variable. Matching is
// case-insensitive; the stored value is the canonical option.
func (r *Registry) SetEnum(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.lookup(name)
	if err != nil {
		return err
	}
	if v.isInt {
		return fmt.Errorf("%s: %w", v.name, ErrTypeMismatch)
	}

	canonical := ""
	for _, opt := range v.options {
		if strings.EqualFold(opt, value) {
			canonical = opt
			break
		}
	}
	if canonical == "" {
		return fmt.Errorf("%w %q: %q (allowed: %s)", ErrInvalidValue, v.name, value, strings.Join(v.options, ", "))
	}
	if err := r.checkContext(v, canonical != v.strVal); err != nil {
		return err
	}
	if v.assignStr != nil {
		if err := v.assignStr(canonical); err != nil {
			return fmt.Errorf("assign %s: %w", v.name, err)
		}
	}
	v.strVal = canonical
	return nil
}

// GetInt returns the current value of an integer variable.
func (r *Registry) GetInt(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	if !v.isInt {
		return 0, fmt.Errorf("%s: %w", v.name, ErrTypeMismatch)
	}
	return v.intVal, nil
}

// Show returns the display form of any variable.
func (r *Registry) Show(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	return v.display(), nil
}

// Setting is one row of ShowAll.
type Setting struct {
	Name        string
	Value       string
	Context     Context
	Description string
}

// ShowAll lists every variable sorted by name.
func (r *Registry) ShowAll() []Setting {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Setting, 0, len(r.vars))
	for _, v := range r.vars {
		out = append(out, Setting{Name: v.name, Value: v.display(), Context: v.context, Description: v.desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reload applies a set of values the way a configuration reload does:
// every value is attempted, refusals of restart-only changes are logged
// and skipped, and other failures are returned together.
func (r *Registry) Reload(ints map[string]int, enums map[string]string) error {
	var errs []error

	report := func(name string, err error) {
		if err == nil {
			return
		}
		if errors.Is(err, ErrRestartRequired) {
			logger.Warn("Configuration change ignored",
				logger.KeyParameter, name, logger.Err(err))
			return
		}
		errs = append(errs, err)
	}

	for name, val := range ints {
		report(name, r.SetInt(name, val))
	}
	for name, val := range enums {
		report(name, r.SetEnum(name, val))
	}
	return errors.Join(errs...)
}
