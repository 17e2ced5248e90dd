package batch

import (
	"context"
	"errors"
	"testing"

	"scoutetl/internal/fanout"
	"scoutetl/internal/model"
	"scoutetl/internal/storage"
)

type fakeUoW struct {
	inserts    []string // table names in call order
	rowCounts  map[string]int
	committed  bool
	rolledBack bool
	failTable  string
}

func (u *fakeUoW) Insert(ctx context.Context, table string, columns []string, rows [][]any, conflict []string) (int64, error) {
	if table == u.failTable {
		return 0, errors.New("boom")
	}
	u.inserts = append(u.inserts, table)
	if u.rowCounts == nil {
		u.rowCounts = map[string]int{}
	}
	u.rowCounts[table] += len(rows)
	return int64(len(rows)), nil
}

func (u *fakeUoW) Commit(ctx context.Context) error   { u.committed = true; return nil }
func (u *fakeUoW) Rollback(ctx context.Context) error { u.rolledBack = true; return nil }

type fakeRepo struct {
	uows      []*fakeUoW
	failTable string
}

func (r *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }
func (r *fakeRepo) UpsertEntities(ctx context.Context, spec storage.EntitySpec, rows [][]any) (map[string]int64, error) {
	return nil, nil
}
func (r *fakeRepo) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	u := &fakeUoW{failTable: r.failTable}
	r.uows = append(r.uows, u)
	return u, nil
}
func (r *fakeRepo) RefreshView(ctx context.Context, view string) error { return nil }
func (r *fakeRepo) Close()                                             {}

func factSet(txn string, withAudio, withVideo bool) *fanout.FactSet {
	fs := &fanout.FactSet{
		Transaction: model.Transaction{ID: txn, StoreID: 1},
		Item:        model.TransactionItem{TransactionID: txn, ProductID: 1, Quantity: 1},
	}
	if withAudio {
		fs.Audio = &model.AudioTranscript{
			TransactionID: txn,
			KeyPhrases:    []string{"Winston"},
			BrandMentions: []string{"Winston"},
		}
	}
	if withVideo {
		fs.Video = &model.VideoSignal{
			TransactionID:   txn,
			ObjectsDetected: []string{"person", "shelf"},
		}
	}
	return fs
}

func TestWriterFlushOrderAndAtomicity(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, 10)
	ctx := context.Background()

	if err := w.Add(ctx, factSet("TXN1", true, true)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(ctx, factSet("TXN2", false, false)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(repo.uows) != 0 {
		t.Fatal("flushed before threshold")
	}

	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(repo.uows) != 1 {
		t.Fatalf("uows = %d, want 1", len(repo.uows))
	}

	u := repo.uows[0]
	want := []string{
		storage.TableTransactions, storage.TableTransactionItems,
		storage.TableAudioTranscripts, storage.TableVideoSignals,
	}
	if len(u.inserts) != len(want) {
		t.Fatalf("inserts = %v", u.inserts)
	}
	for i, table := range want {
		if u.inserts[i] != table {
			t.Errorf("insert %d = %s, want %s", i, u.inserts[i], table)
		}
	}
	if !u.committed || u.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", u.committed, u.rolledBack)
	}
	if u.rowCounts[storage.TableTransactions] != 2 || u.rowCounts[storage.TableAudioTranscripts] != 1 {
		t.Errorf("rowCounts = %v", u.rowCounts)
	}
}

func TestWriterThresholdFlush(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, 2)
	ctx := context.Background()

	for _, txn := range []string{"TXN1", "TXN2", "TXN3"} {
		if err := w.Add(ctx, factSet(txn, false, false)); err != nil {
			t.Fatalf("Add(%s): %v", txn, err)
		}
	}
	// Third Add crosses the threshold and flushes the first two.
	if len(repo.uows) != 1 {
		t.Fatalf("uows = %d, want 1 after threshold", len(repo.uows))
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	st := w.Stats()
	if st.Batches != 2 || st.Transactions != 3 || st.Items != 3 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestWriterFlushEmptyIsNoop(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, 2)
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(repo.uows) != 0 {
		t.Error("empty flush opened a unit of work")
	}
}

func TestWriterRollbackOnInsertError(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{failTable: storage.TableTransactionItems}
	w := NewWriter(repo, 10)
	ctx := context.Background()

	if err := w.Add(ctx, factSet("TXN1", false, false)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := w.Flush(ctx)

	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %v, want WriteError", err)
	}
	if werr.Table != storage.TableTransactionItems || werr.Rows != 1 {
		t.Errorf("WriteError = %+v", werr)
	}

	u := repo.uows[0]
	if u.committed || !u.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want rollback only", u.committed, u.rolledBack)
	}
	if w.Stats().Batches != 0 {
		t.Errorf("failed batch counted: %+v", w.Stats())
	}
}

func TestWriterListFieldsJoined(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, 10)
	ctx := context.Background()

	var gotVideo [][]any
	if err := w.Add(ctx, factSet("TXN1", false, true)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	gotVideo = append(gotVideo, w.video...)
	if len(gotVideo) != 1 {
		t.Fatalf("video rows = %d", len(gotVideo))
	}
	if gotVideo[0][1] != "person|shelf" {
		t.Errorf("objects_detected = %v, want joined text", gotVideo[0][1])
	}
}
