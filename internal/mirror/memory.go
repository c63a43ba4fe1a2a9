package mirror

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemorySheet is an in-memory Sheet for tests and dry runs.
type MemorySheet struct {
	mu        sync.Mutex
	rows      [][]string
	appendErr error
	findErr   error
	updateErr error
}

// NewMemorySheet creates an empty in-memory sheet.
func NewMemorySheet() *MemorySheet {
	return &MemorySheet{}
}

// AppendRow adds a row at the bottom of the sheet.
func (s *MemorySheet) AppendRow(_ context.Context, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	row := make([]string, len(values))
	copy(row, values)
	s.rows = append(s.rows, row)
	return nil
}

// FindRowByRecordID scans the ID column for id.
func (s *MemorySheet) FindRowByRecordID(_ context.Context, id uint) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return 0, false, s.findErr
	}
	want := strconv.FormatUint(uint64(id), 10)
	for i, row := range s.rows {
		if len(row) >= ColumnID && row[ColumnID-1] == want {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// UpdateCell sets the value at (row, col), growing the row as needed.
func (s *MemorySheet) UpdateCell(_ context.Context, row, col int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if row < 1 || row > len(s.rows) || col < 1 {
		return fmt.Errorf("mirror: update cell: (%d,%d) out of range", row, col)
	}
	for len(s.rows[row-1]) < col {
		s.rows[row-1] = append(s.rows[row-1], "")
	}
	s.rows[row-1][col-1] = value
	return nil
}

// Rows returns a copy of all rows.
func (s *MemorySheet) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// DeleteRow removes a row, as an operator editing the sheet might.
func (s *MemorySheet) DeleteRow(row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row < 1 || row > len(s.rows) {
		return
	}
	s.rows = append(s.rows[:row-1], s.rows[row:]...)
}

// SetAppendError makes subsequent AppendRow calls fail.
func (s *MemorySheet) SetAppendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// SetFindError makes subsequent FindRowByRecordID calls fail.
func (s *MemorySheet) SetFindError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr = err
}

// SetUpdateError makes subsequent UpdateCell calls fail.
func (s *MemorySheet) SetUpdateError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

// MemoryArchive is an in-memory PhotoArchive returning fake links.
type MemoryArchive struct {
	mu       sync.Mutex
	archived []string
	err      error
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

// Archive records the photo and returns "archive://<machine>/<ref>".
func (a *MemoryArchive) Archive(_ context.Context, photoRef, machineName string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.archived = append(a.archived, photoRef)
	return fmt.Sprintf("archive://%s/%s", machineName, photoRef), nil
}

// Archived returns the photo refs archived so far.
func (a *MemoryArchive) Archived() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.archived...)
}

// SetError makes subsequent Archive calls fail.
func (a *MemoryArchive) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}
