package tablestream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPartitionNotSupported is returned for table references carrying a
// partition qualifier (a "$" suffix). Streamed downloads operate on whole
// tables only.
var ErrPartitionNotSupported = errors.New("tablestream: partition qualifiers are not supported")

// ErrSnapshotNotSupported is returned for table references carrying a
// snapshot qualifier (an "@" suffix).
var ErrSnapshotNotSupported = errors.New("tablestream: snapshot qualifiers are not supported")

// TableRef identifies a table as project.dataset.table. Project may be empty
// when the source resolves a default project.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableRef parses "project.dataset.table" or "dataset.table".
// References with partition ("table$20240101") or snapshot ("table@1234")
// qualifiers are rejected up front, before any network activity.
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(s, ".")

	var ref TableRef
	switch len(parts) {
	case 2:
		ref = TableRef{Dataset: parts[0], Table: parts[1]}
	case 3:
		ref = TableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}
	default:
		return TableRef{}, fmt.Errorf("tablestream: invalid table reference %q (want [project.]dataset.table)", s)
	}

	if err := ref.Validate(); err != nil {
		return TableRef{}, err
	}
	return ref, nil
}

// Validate checks that the reference names a plain table. It is called by
// [Download] so hand-constructed references get the same precondition checks
// as parsed ones.
func (r TableRef) Validate() error {
	if r.Dataset == "" || r.Table == "" {
		return fmt.Errorf("tablestream: incomplete table reference %q", r.String())
	}
	if strings.Contains(r.Table, "$") {
		return ErrPartitionNotSupported
	}
	if strings.Contains(r.Table, "@") {
		return ErrSnapshotNotSupported
	}
	return nil
}

// String returns the dotted form of the reference.
func (r TableRef) String() string {
	if r.Project == "" {
		return r.Dataset + "." + r.Table
	}
	return r.Project + "." + r.Dataset + "." + r.Table
}
