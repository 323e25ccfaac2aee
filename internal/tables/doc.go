// Package tables loads, validates and serves the watchdog's rule tables.
//
// Each table is a YAML file with a kind and a list of entries:
//
//	kind: appmon
//	entries:
//	  - name: NAV
//	    cycle_limit: 10
//	    action: message:0
//
// Files are checked against an embedded CUE schema (field types, ranges,
// closed structs, table capacity) before they are decoded into ir rows, and
// every name is NFC normalized. Sources implement engine.TableSource:
// StaticSource for tests and scenarios, FileSource for files that are
// reloaded when fsnotify reports a change.
package tables
