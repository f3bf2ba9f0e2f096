package memory

import (
	"context"
	"fmt"
	"sync"

	"numtrack/internal/ledger"
	"numtrack/internal/sheets"
)

var (
	_ sheets.LedgerWriter = (*Store)(nil)
	_ sheets.LedgerReader = (*Store)(nil)
)

// Store keeps rendered ledger tabs in memory. Used by tests and by the
// worker when no spreadsheet is configured.
type Store struct {
	mu     sync.Mutex
	tabs   map[string][][]string
	writes int
}

func New() *Store {
	return &Store{tabs: map[string][][]string{}}
}

// WriteLedger replaces the tab for owner and returns a synthetic reference.
func (s *Store) WriteLedger(_ context.Context, owner string, sum ledger.Summary) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("write ledger: empty owner")
	}
	rows := sheets.Render(sum)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[owner] = rows
	s.writes++
	return fmt.Sprintf("mem:%s:%d", owner, len(rows)), nil
}

// ReadLedger returns a copy of the rows last written for owner.
func (s *Store) ReadLedger(_ context.Context, owner string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tabs[owner]
	if !ok {
		return nil, nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

// Writes reports how many times WriteLedger succeeded.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
