// Package batch accumulates fact sets and flushes them to storage in atomic
// units of work. Each loader worker owns one Writer, so Writers hold no locks.
package batch

import (
	"context"
	"fmt"

	"scoutetl/internal/fanout"
	"scoutetl/internal/storage"
)

// DefaultSize is the transaction-buffer flush threshold.
const DefaultSize = 1000

// WriteError is fatal: a batch failed to commit and was rolled back. Rows is
// the size of the transaction buffer that was in flight.
type WriteError struct {
	Table string
	Rows  int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write batch: table %s (%d transactions in flight): %v", e.Table, e.Rows, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Stats counts what a Writer committed.
type Stats struct {
	Batches      int
	Transactions int64
	Items        int64
	Audio        int64
	Video        int64
}

// Writer buffers fanned-out facts and writes them when the transaction buffer
// reaches the threshold. All four tables for a batch commit inside one unit
// of work: a batch is either fully visible or not at all.
//
// Not safe for concurrent use; give each worker its own Writer.
type Writer struct {
	repo storage.Repository
	size int

	trans [][]any
	items [][]any
	audio [][]any
	video [][]any

	stats Stats
}

// NewWriter returns a Writer flushing every size transactions. size <= 0
// means DefaultSize.
func NewWriter(repo storage.Repository, size int) *Writer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Writer{repo: repo, size: size}
}

// Add buffers one fact set, flushing first if the buffer is full.
func (w *Writer) Add(ctx context.Context, fs *fanout.FactSet) error {
	if len(w.trans) >= w.size {
		if err := w.Flush(ctx); err != nil {
			return err
		}
	}

	t := fs.Transaction
	w.trans = append(w.trans, []any{
		t.ID, t.Timestamp, t.StoreID, t.CustomerID, t.CampaignID,
		t.TransactionValue, t.DiscountAmount, t.FinalAmount,
		t.PaymentMethod, t.DurationSeconds, t.UnitsTotal, t.UniqueItems,
		t.Weather, t.DayOfWeek, t.HourOfDay,
		t.IsHoliday, t.IsPayday, t.InfluencedByCampaign,
	})

	it := fs.Item
	w.items = append(w.items, []any{
		it.TransactionID, it.ProductID, it.Quantity, it.UnitPrice,
		it.TotalPrice, it.DiscountApplied, it.WasSubstituted,
		it.OriginalRequest, it.SubstitutionReason, it.IsPromo, it.PromoType,
	})

	if a := fs.Audio; a != nil {
		w.audio = append(w.audio, []any{
			a.TransactionID, a.Language, a.DurationSeconds,
			a.Quality, a.BackgroundNoiseLevel, a.FullTranscript,
			a.TranscriptionConfidence, storage.JoinList(a.KeyPhrases),
			a.RequestType, a.StoreownerInfluence,
			a.RecommendationGiven, a.SuggestionAccepted,
			a.SentimentScore, a.PrimaryIntent,
			storage.JoinList(a.BrandMentions), storage.JoinList(a.ProductMentions),
			a.PriceMentioned, a.PromoInquiry,
		})
	}
	if v := fs.Video; v != nil {
		w.video = append(w.video, []any{
			v.TransactionID, storage.JoinList(v.ObjectsDetected), v.PeopleCount,
			storage.JoinList(v.ProductsVisible), v.ShelfVisibility,
			v.BrowsingDurationSeconds, v.ProductsTouched, v.DecisionTimeSeconds,
			v.LightingQuality, v.StoreOrganization, v.QueueLength, v.LookedAtPromo,
		})
	}
	return nil
}

// Flush writes everything buffered inside one unit of work. Dependency order
// inside the transaction: parents before children, transactions first.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.trans) == 0 {
		return nil
	}

	uow, err := w.repo.Begin(ctx)
	if err != nil {
		return &WriteError{Table: storage.TableTransactions, Rows: len(w.trans), Err: err}
	}

	inFlight := len(w.trans)
	writes := []struct {
		spec storage.FactSpec
		rows [][]any
		dst  *int64
	}{
		{storage.TransactionsFact, w.trans, &w.stats.Transactions},
		{storage.TransactionItemsFact, w.items, &w.stats.Items},
		{storage.AudioTranscriptsFact, w.audio, &w.stats.Audio},
		{storage.VideoSignalsFact, w.video, &w.stats.Video},
	}
	for _, wr := range writes {
		if len(wr.rows) == 0 {
			continue
		}
		n, err := uow.Insert(ctx, wr.spec.Table, wr.spec.Columns, wr.rows, wr.spec.ConflictColumns)
		if err != nil {
			_ = uow.Rollback(ctx)
			return &WriteError{Table: wr.spec.Table, Rows: inFlight, Err: err}
		}
		*wr.dst += n
	}

	if err := uow.Commit(ctx); err != nil {
		_ = uow.Rollback(ctx)
		return &WriteError{Table: storage.TableTransactions, Rows: inFlight, Err: err}
	}

	w.stats.Batches++
	w.trans = w.trans[:0]
	w.items = w.items[:0]
	w.audio = w.audio[:0]
	w.video = w.video[:0]
	return nil
}

// Stats returns what has been committed so far. Buffered, unflushed rows are
// not counted.
func (w *Writer) Stats() Stats { return w.stats }

// Merge adds other's counts into s.
func (s *Stats) Merge(other Stats) {
	s.Batches += other.Batches
	s.Transactions += other.Transactions
	s.Items += other.Items
	s.Audio += other.Audio
	s.Video += other.Video
}
