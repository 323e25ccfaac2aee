package tables

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Kind names a table.
type Kind string

const (
	KindAppMon      Kind = "appmon"
	KindEventMon    Kind = "eventmon"
	KindMsgAct      Kind = "msgact"
	KindExecCounter Kind = "execcounter"
)

// Capacities enforced by the schema.
const (
	MaxAppMonEntries      = 32
	MaxEventMonEntries    = 16
	MaxMsgActEntries      = 8
	MaxExecCounterEntries = 32
)

// Kinds lists every table kind in load order.
var Kinds = []Kind{KindMsgAct, KindAppMon, KindEventMon, KindExecCounter}

// ValidationError describes a table file rejected by the schema.
type ValidationError struct {
	Kind    Kind
	Path    string
	Details []string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s table", e.Kind)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if len(e.Details) == 1 {
		return msg + ": " + e.Details[0]
	}
	return fmt.Sprintf("%s: %d schema errors: %v", msg, len(e.Details), e.Details)
}

// Schema validates table documents against the embedded CUE definitions.
//
// Thread-safety: cue values are not safe for concurrent use, so Validate
// serializes callers.
type Schema struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs cue.Value
}

var (
	defaultSchema     *Schema
	defaultSchemaOnce sync.Once
	defaultSchemaErr  error
)

// DefaultSchema returns the shared schema compiled from schema.cue.
func DefaultSchema() (*Schema, error) {
	defaultSchemaOnce.Do(func() {
		defaultSchema, defaultSchemaErr = NewSchema(schemaCUE)
	})
	return defaultSchema, defaultSchemaErr
}

// NewSchema compiles CUE source defining #appmon, #eventmon, #msgact and
// #execcounter.
func NewSchema(src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile table schema: %w", err)
	}
	for _, k := range Kinds {
		if def := v.LookupPath(defPath(k)); !def.Exists() {
			return nil, fmt.Errorf("table schema has no #%s definition", k)
		}
	}
	return &Schema{ctx: ctx, defs: v}, nil
}

// Validate checks a YAML document against the definition for kind.
func (s *Schema) Validate(kind Kind, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Kind: kind, Details: []string{err.Error()}}
	}
	if doc == nil {
		return &ValidationError{Kind: kind, Details: []string{"empty document"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def := s.defs.LookupPath(defPath(kind))
	if !def.Exists() {
		return fmt.Errorf("unknown table kind %q", kind)
	}

	v := def.Unify(s.ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Kind: kind, Details: cueDetails(err)}
	}
	return nil
}

func cueDetails(err error) []string {
	var details []string
	for _, e := range cueerrors.Errors(err) {
		details = append(details, cueerrors.Details(e, nil))
	}
	if len(details) == 0 {
		details = append(details, err.Error())
	}
	return details
}

func defPath(k Kind) cue.Path {
	return cue.ParsePath("#" + string(k))
}
