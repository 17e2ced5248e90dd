package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"scoutetl/internal/record"
	"scoutetl/internal/refload"
	"scoutetl/internal/storage"
	_ "scoutetl/internal/storage/sqlite"
)

func testRepo(t *testing.T) (storage.Repository, string) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "load.db")
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo, dsn
}

func sourceRows() []*record.Row {
	ts := time.Date(2024, 3, 15, 14, 5, 0, 0, time.UTC)
	return []*record.Row{
		{
			TransactionID: "TXN1", Timestamp: ts,
			StoreCode: "ST01", StoreName: "Aling Nena", Region: "NCR",
			SKU: "SKU001", BrandName: "Winston", ProductName: "Winston Red 20s",
			Quantity: 2, UnitPrice: 145, PesoValue: 290, IsTBWAClient: true,
			CustomerID: "CUST1", Gender: "female", AgeBracket: "25-34",
			CampaignID: "CAMP001", Weather: "sunny",
			AudioLanguage: "tagalog", AudioTranscript: "Pabili po ng Winston, may promo?",
			VideoObjects: "person|shelf",
		},
		{
			TransactionID: "TXN2", Timestamp: ts.Add(time.Hour),
			StoreCode: "ST01", StoreName: "Aling Nena", Region: "NCR",
			SKU: "SKU002", BrandName: "Mevius", ProductName: "Mevius Lights",
			Quantity: 1, UnitPrice: 160, PesoValue: 160,
			WasSubstituted: true, OriginalRequest: "Winston Red 20s",
		},
		{
			TransactionID: "TXN3", Timestamp: ts.Add(2 * time.Hour),
			StoreCode: "ST02", StoreName: "Kuya Boy Store", Region: "Region III",
			SKU: "SKU001", BrandName: "Winston", ProductName: "Winston Red 20s",
			Quantity: 1, UnitPrice: 145, PesoValue: 145, IsTBWAClient: true,
		},
	}
}

// memStream produces a fresh stream per pass from a row factory.
func memStream(rowsFn func() []*record.Row) StreamFn {
	return func(ctx context.Context) (*record.Stream, error) {
		ch := make(chan *record.Row, 16)
		go func() {
			defer close(ch)
			for _, r := range rowsFn() {
				select {
				case ch <- r:
				case <-ctx.Done():
					return
				}
			}
		}()
		return record.NewStream(ch, nil), nil
	}
}

func countRows(t *testing.T, dsn, table string) int {
	t.Helper()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestEngineRoundTrip(t *testing.T) {
	t.Parallel()

	repo, dsn := testRepo(t)
	eng := &Engine{Repo: repo, Stream: memStream(sourceRows)}

	rep, err := eng.Run(context.Background(), Options{BatchSize: 2, Workers: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.RowsSeen != 3 {
		t.Errorf("RowsSeen = %d", rep.RowsSeen)
	}
	if rep.Brands != 2 || rep.Products != 2 || rep.Stores != 2 {
		t.Errorf("entities = %d brands %d products %d stores", rep.Brands, rep.Products, rep.Stores)
	}
	if rep.Customers != 1 || rep.Campaigns != 1 {
		t.Errorf("entities = %d customers %d campaigns", rep.Customers, rep.Campaigns)
	}
	if rep.Facts.Transactions != 3 || rep.Facts.Items != 3 {
		t.Errorf("facts = %+v", rep.Facts)
	}
	if rep.Facts.Audio != 1 || rep.Facts.Video != 1 {
		t.Errorf("optional facts = %+v", rep.Facts)
	}

	for table, want := range map[string]int{
		"brands": 2, "products": 2, "stores": 2, "customers": 1, "campaigns": 1,
		"transactions": 3, "transaction_items": 3,
		"audio_transcripts": 1, "video_signals": 1,
	} {
		if got := countRows(t, dsn, table); got != want {
			t.Errorf("%s = %d rows, want %d", table, got, want)
		}
	}
}

func TestEngineRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	repo, dsn := testRepo(t)
	eng := &Engine{Repo: repo, Stream: memStream(sourceRows)}
	ctx := context.Background()

	if _, err := eng.Run(ctx, Options{Workers: 1}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	rep, err := eng.Run(ctx, Options{Workers: 1})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	// The replay commits batches but every fact hits its conflict target.
	if rep.Facts.Transactions != 0 || rep.Facts.Items != 0 {
		t.Errorf("replay wrote facts: %+v", rep.Facts)
	}
	for table, want := range map[string]int{
		"brands": 2, "transactions": 3, "transaction_items": 3,
		"audio_transcripts": 1, "video_signals": 1,
	} {
		if got := countRows(t, dsn, table); got != want {
			t.Errorf("%s = %d rows after rerun, want %d", table, got, want)
		}
	}
}

func TestEngineUnresolvedReferenceIsFatal(t *testing.T) {
	t.Parallel()

	repo, _ := testRepo(t)

	// Pass 2 sees a store pass 1 never observed; the id maps cannot cover it.
	calls := 0
	stream := func(ctx context.Context) (*record.Stream, error) {
		calls++
		rows := sourceRows()
		if calls > 1 {
			extra := sourceRows()[0]
			extra.TransactionID = "TXN9"
			extra.StoreCode = "ST_UNSEEN"
			rows = append(rows, extra)
		}
		return memStream(func() []*record.Row { return rows })(ctx)
	}

	eng := &Engine{Repo: repo, Stream: stream}
	_, err := eng.Run(context.Background(), Options{Workers: 1})

	var uerr *refload.UnresolvedReferenceError
	if !errors.As(err, &uerr) {
		t.Fatalf("err = %v, want UnresolvedReferenceError", err)
	}
	if uerr.Entity != "store" || uerr.Key != "ST_UNSEEN" {
		t.Errorf("err = %+v", uerr)
	}
}

func TestEngineViewRefreshUnsupportedIsSkipped(t *testing.T) {
	t.Parallel()

	repo, _ := testRepo(t)
	eng := &Engine{Repo: repo, Stream: memStream(sourceRows)}

	rep, err := eng.Run(context.Background(), Options{
		Workers: 1,
		Views:   []string{"mv_daily_sales", "mv_hourly_patterns"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Unsupported views are skipped, never failures.
	if len(rep.ViewsOK) != 0 || len(rep.ViewsError) != 0 {
		t.Errorf("views = ok %v error %v, want both empty", rep.ViewsOK, rep.ViewsError)
	}
}

func TestEngineStreamErrorIsTerminal(t *testing.T) {
	t.Parallel()

	repo, _ := testRepo(t)
	streamErr := errors.New("truncated source")
	stream := func(ctx context.Context) (*record.Stream, error) {
		ch := make(chan *record.Row)
		close(ch)
		return record.NewStream(ch, func() error { return streamErr }), nil
	}

	eng := &Engine{Repo: repo, Stream: stream}
	if _, err := eng.Run(context.Background(), Options{}); !errors.Is(err, streamErr) {
		t.Fatalf("err = %v, want stream error", err)
	}
}
