package tables

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hswatch/internal/ir"
)

// file is the decoded form of every table document.
type file[T any] struct {
	Kind    Kind `yaml:"kind"`
	Entries []T  `yaml:"entries"`
}

// Parse validates data against kind's schema and decodes its entries.
func Parse[T any](schema *Schema, kind Kind, data []byte) ([]T, error) {
	if err := schema.Validate(kind, data); err != nil {
		return nil, err
	}

	var f file[T]
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ValidationError{Kind: kind, Details: []string{err.Error()}}
	}
	if f.Entries == nil {
		f.Entries = []T{}
	}
	normalize(f.Entries)
	return f.Entries, nil
}

// LoadFile reads and parses the table file at path.
func LoadFile[T any](schema *Schema, kind Kind, path string) ([]T, error) {
	rows, _, err := loadFile[T](schema, kind, path)
	return rows, err
}

// loadFile is LoadFile that also returns the digest of the file contents.
func loadFile[T any](schema *Schema, kind Kind, path string) ([]T, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s table: %w", kind, err)
	}
	rows, err := Parse[T](schema, kind, data)
	var verr *ValidationError
	if errors.As(err, &verr) {
		verr.Path = path
	}
	return rows, ir.TableDigest(string(kind), data), err
}

// normalize NFC-normalizes every name in rows.
func normalize[T any](rows []T) {
	for i := range rows {
		switch r := any(&rows[i]).(type) {
		case *ir.AppMonEntry:
			r.Name = ir.NormalizeName(r.Name)
		case *ir.EventRule:
			r.AppName = ir.NormalizeName(r.AppName)
		case *ir.ExecCounterEntry:
			r.Name = ir.NormalizeName(r.Name)
		}
	}
}

// FileName returns the conventional file name of kind inside a tables directory.
func FileName(kind Kind) string {
	return string(kind) + ".yaml"
}

// Set is one complete set of tables.
type Set struct {
	AppMon      []ir.AppMonEntry
	EventMon    []ir.EventRule
	MsgAct      []ir.MessageAction
	ExecCounter []ir.ExecCounterEntry
}

// LoadDir loads every table from dir. The execution counter table is
// optional; the others must exist. All file errors are joined.
func LoadDir(schema *Schema, dir string) (*Set, error) {
	var (
		set  Set
		errs []error
		err  error
	)

	set.MsgAct, err = LoadFile[ir.MessageAction](schema, KindMsgAct, filepath.Join(dir, FileName(KindMsgAct)))
	errs = append(errs, err)
	set.AppMon, err = LoadFile[ir.AppMonEntry](schema, KindAppMon, filepath.Join(dir, FileName(KindAppMon)))
	errs = append(errs, err)
	set.EventMon, err = LoadFile[ir.EventRule](schema, KindEventMon, filepath.Join(dir, FileName(KindEventMon)))
	errs = append(errs, err)

	execPath := filepath.Join(dir, FileName(KindExecCounter))
	if _, statErr := os.Stat(execPath); statErr == nil {
		set.ExecCounter, err = LoadFile[ir.ExecCounterEntry](schema, KindExecCounter, execPath)
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Validate checks references between tables: every message action named by
// the monitor tables must exist in the message action table.
func (s *Set) Validate() error {
	var errs []error
	check := func(table Kind, row int, a ir.ActionRef) {
		if a.Kind == ir.ActionSendMessage && a.Slot >= len(s.MsgAct) {
			errs = append(errs, fmt.Errorf("%s entry %d: %s refers past the %d message actions",
				table, row, a, len(s.MsgAct)))
		}
	}
	for i, e := range s.AppMon {
		check(KindAppMon, i, e.Action)
	}
	for i, r := range s.EventMon {
		check(KindEventMon, i, r.Action)
	}
	return errors.Join(errs...)
}
