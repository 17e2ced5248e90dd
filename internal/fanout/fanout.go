// Package fanout expands one flat record into its normalized fact rows. The
// expansion is pure and deterministic: the same row and id maps always yield
// the same FactSet, which is what lets pass 2 run on any number of workers.
package fanout

import (
	"math"
	"strings"

	"scoutetl/internal/model"
	"scoutetl/internal/record"
	"scoutetl/internal/refload"
)

// FactSet is the fanout of a single source row: always one transaction and
// one item, plus the optional audio and video facts the row carries.
type FactSet struct {
	Transaction model.Transaction
	Item        model.TransactionItem
	Audio       *model.AudioTranscript
	Video       *model.VideoSignal
}

// Transaction and item defaults the source stream does not carry.
const (
	defaultPaymentMethod   = "cash"
	defaultDurationSeconds = 120
)

// Audio fact defaults from the upstream generator.
const (
	audioDurationSeconds = 120
	audioQuality         = "clear"
	audioNoiseLevel      = "low"
	audioConfidence      = 0.92
	audioSentiment       = 0.75
	audioPrimaryIntent   = "purchase"
)

// Video fact defaults from the upstream generator.
const (
	videoPeopleCount     = 2
	videoShelfVisibility = "full"
	videoBrowsingSeconds = 60
	videoProductsTouched = 1
	videoDecisionSeconds = 30
	videoLighting        = "good"
	videoOrganization    = "organized"
)

// Expand fans one row out into its facts, resolving every entity reference
// through ids. The store and product references are required; a miss is an
// *refload.UnresolvedReferenceError and fatal to the run, because pass 1
// observed the same stream and must have registered the key.
func Expand(r *record.Row, ids *refload.IDMaps) (*FactSet, error) {
	storeID, ok := ids.Stores[r.StoreCode]
	if !ok {
		return nil, &refload.UnresolvedReferenceError{Entity: "store", Key: r.StoreCode}
	}
	productID, ok := ids.Products[r.SKU]
	if !ok {
		return nil, &refload.UnresolvedReferenceError{Entity: "product", Key: r.SKU}
	}

	var customerID *int64
	if r.CustomerID != "" {
		id, ok := ids.Customers[r.CustomerID]
		if !ok {
			return nil, &refload.UnresolvedReferenceError{Entity: "customer", Key: r.CustomerID}
		}
		customerID = &id
	}
	var campaignID *int64
	if r.CampaignID != "" {
		id, ok := ids.Campaigns[r.CampaignID]
		if !ok {
			return nil, &refload.UnresolvedReferenceError{Entity: "campaign", Key: r.CampaignID}
		}
		campaignID = &id
	}

	fs := &FactSet{
		Transaction: model.Transaction{
			ID:               r.TransactionID,
			Timestamp:        r.Timestamp,
			StoreID:          storeID,
			CustomerID:       customerID,
			CampaignID:       campaignID,
			TransactionValue: r.PesoValue,
			DiscountAmount:   0,
			FinalAmount:      r.PesoValue,
			PaymentMethod:    defaultPaymentMethod,
			DurationSeconds:  defaultDurationSeconds,
			UnitsTotal:       r.Quantity,
			UniqueItems:      1,
			Weather:          r.Weather,
			DayOfWeek:        r.Timestamp.Weekday().String(),
			HourOfDay:        r.Timestamp.Hour(),
			IsHoliday:        false,
			// The source system's payday calendar: the 15th and 30th of the
			// month, including 30 in months that have a 31st.
			IsPayday:             r.Timestamp.Day() == 15 || r.Timestamp.Day() == 30,
			InfluencedByCampaign: r.CampaignID != "",
		},
		Item: model.TransactionItem{
			TransactionID:   r.TransactionID,
			ProductID:       productID,
			Quantity:        r.Quantity,
			UnitPrice:       r.UnitPrice,
			TotalPrice:      round2(float64(r.Quantity) * r.UnitPrice),
			DiscountApplied: 0,
			WasSubstituted:  r.WasSubstituted,
			IsPromo:         false,
			PromoType:       nil,
		},
	}

	// The request and reason travel together: both set on a substitution,
	// both absent otherwise.
	if r.WasSubstituted {
		reason := model.SubstitutionReasonDefault
		fs.Item.SubstitutionReason = &reason
		if r.OriginalRequest != "" {
			orig := r.OriginalRequest
			fs.Item.OriginalRequest = &orig
		}
	}

	if r.AudioTranscript != "" {
		fs.Audio = expandAudio(r)
	}
	if r.VideoObjects != "" {
		fs.Video = expandVideo(r)
	}
	return fs, nil
}

func expandAudio(r *record.Row) *model.AudioTranscript {
	lower := strings.ToLower(r.AudioTranscript)

	// Intent is a verbatim, case-sensitive probe for the brand name; the
	// keyword probes are case-insensitive.
	requestType := "generic"
	if strings.Contains(r.AudioTranscript, r.BrandName) {
		requestType = "branded"
	}
	influence := "low"
	if r.WasSubstituted {
		influence = "high"
	}

	return &model.AudioTranscript{
		TransactionID:           r.TransactionID,
		Language:                r.AudioLanguage,
		DurationSeconds:         audioDurationSeconds,
		Quality:                 audioQuality,
		BackgroundNoiseLevel:    audioNoiseLevel,
		FullTranscript:          r.AudioTranscript,
		TranscriptionConfidence: audioConfidence,
		KeyPhrases:              []string{r.BrandName},
		RequestType:             requestType,
		StoreownerInfluence:     influence,
		RecommendationGiven:     r.WasSubstituted,
		SuggestionAccepted:      r.WasSubstituted,
		SentimentScore:          audioSentiment,
		PrimaryIntent:           audioPrimaryIntent,
		BrandMentions:           []string{r.BrandName},
		ProductMentions:         []string{r.ProductName},
		PriceMentioned:          strings.Contains(lower, "pesos"),
		PromoInquiry:            strings.Contains(lower, "promo"),
	}
}

func expandVideo(r *record.Row) *model.VideoSignal {
	return &model.VideoSignal{
		TransactionID:           r.TransactionID,
		ObjectsDetected:         strings.Split(r.VideoObjects, "|"),
		PeopleCount:             videoPeopleCount,
		ProductsVisible:         []string{r.ProductName},
		ShelfVisibility:         videoShelfVisibility,
		BrowsingDurationSeconds: videoBrowsingSeconds,
		ProductsTouched:         videoProductsTouched,
		DecisionTimeSeconds:     videoDecisionSeconds,
		LightingQuality:         videoLighting,
		StoreOrganization:       videoOrganization,
		QueueLength:             0,
		LookedAtPromo:           false,
	}
}

// round2 rounds to two decimals, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
