package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"numtrack/internal/ledger"
	ports "numtrack/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// maxSheetTitle is the longest tab title the Sheets API accepts.
const maxSheetTitle = 100

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetPrefix   string

	// Tabs known to exist, refreshed after tabCacheTTL.
	mu          sync.Mutex
	knownTabs   map[string]struct{}
	tabsExpire  time.Time
	tabCacheTTL time.Duration
}

// Ensure interface conformance
var (
	_ ports.LedgerWriter = (*Client)(nil)
	_ ports.LedgerReader = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	SheetPrefix     string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	creds, err := credentials(opts)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", opts.SpreadsheetID)
	return newClient(svc, opts), nil
}

func newClient(svc *gsheet.Service, opts Options) *Client {
	prefix := strings.TrimSpace(opts.SheetPrefix)
	if prefix == "" {
		prefix = "Ledger"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(opts.SpreadsheetID),
		sheetPrefix:   prefix,
		knownTabs:     map[string]struct{}{},
		tabCacheTTL:   5 * time.Minute,
	}
}

func credentials(opts Options) ([]byte, error) {
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		return []byte(opts.CredentialsJSON), nil
	case strings.TrimSpace(opts.CredentialsFile) != "":
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// SheetName is the tab that holds owner's ledger.
func (c *Client) SheetName(owner string) string {
	name := c.sheetPrefix + " " + owner
	if len(name) > maxSheetTitle {
		name = name[:maxSheetTitle]
	}
	return name
}

// WriteLedger clears the owner's tab and writes the rendered summary from A1.
func (c *Client) WriteLedger(ctx context.Context, owner string, sum ledger.Summary) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheet := c.SheetName(owner)
	if err := c.ensureTab(ctx, sheet); err != nil {
		return "", err
	}

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quote(sheet), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear sheet %s: %w", sheet, err)
	}

	rows := ports.Render(sum)
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = make([]any, len(r))
		for j, cell := range r {
			values[i][j] = cell
		}
	}
	rng := fmt.Sprintf("%s!A1:E%d", quote(sheet), len(rows))
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}
	return rng, nil
}

// ReadLedger returns the cells currently in the owner's tab.
func (c *Client) ReadLedger(ctx context.Context, owner string) ([][]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := quote(c.SheetName(owner)) + "!A:E"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		out[i] = toStrings(row)
	}
	return out, nil
}

// ensureTab creates sheet when the spreadsheet does not have it yet.
func (c *Client) ensureTab(ctx context.Context, sheet string) error {
	c.mu.Lock()
	if time.Now().After(c.tabsExpire) {
		c.knownTabs = map[string]struct{}{}
	}
	_, known := c.knownTabs[sheet]
	c.mu.Unlock()
	if known {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}

	if indexOf(titles, sheet) == -1 {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add sheet %s: %w", sheet, err)
		}
		slog.InfoContext(ctx, "Created ledger sheet", "sheet", sheet)
		titles = append(titles, sheet)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().After(c.tabsExpire) {
		c.tabsExpire = time.Now().Add(c.tabCacheTTL)
	}
	for _, t := range titles {
		c.knownTabs[t] = struct{}{}
	}
	return nil
}

// InvalidateTabCache forces the next write to re-read the tab list.
func (c *Client) InvalidateTabCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownTabs = map[string]struct{}{}
	c.tabsExpire = time.Time{}
}

// quote wraps a tab title for use in A1 notation.
func quote(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if v == target {
			return i
		}
	}
	return -1
}
