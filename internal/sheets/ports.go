package sheets

import (
	"context"

	"numtrack/internal/ledger"
)

// Ports for outbound export adapters.
type (
	// LedgerWriter replaces the exported view of one owner's ledger with
	// the given summary. Writing an empty summary clears the view.
	LedgerWriter interface {
		WriteLedger(ctx context.Context, owner string, sum ledger.Summary) (ref string, err error)
	}

	// LedgerReader returns the last exported rows for an owner.
	LedgerReader interface {
		ReadLedger(ctx context.Context, owner string) ([][]string, error)
	}
)
