// Package model defines the typed records the loader materializes: the five
// reference entities discovered from the flat stream, and the fact rows each
// source row fans out into. Natural keys are plain strings; surrogate ids are
// assigned by storage and never live on these structs.
package model

import "time"

// Customer defaults applied when the source stream carries no profile fields.
const (
	CustomerTypeRegular      = "regular"
	LoyaltyStatusNonMember   = "non-member"
	InferredFromTransactions = "transaction_pattern"
)

// Campaign and substitution constants carried over from the source system.
const (
	CampaignTypeBelowTheLine  = "below_the_line"
	SubstitutionReasonDefault = "out_of_stock"
)

// Brand is unique by Name.
type Brand struct {
	Name         string
	IsTBWAClient bool
}

// Product is unique by SKU and references its Brand by natural key until the
// reference loader resolves a surrogate id.
type Product struct {
	SKU         string
	BrandName   string
	Name        string
	Category    string
	Subcategory string
	ListPrice   float64
}

// Store is unique by Code (the ST###### identifier in the source stream).
type Store struct {
	Code          string
	Name          string
	Type          string
	Region        string
	Province      string
	City          string
	Barangay      string
	Latitude      float64
	Longitude     float64
	EconomicClass string
}

// Customer is unique by ExternalID. Profile fields beyond gender/age are
// defaulted because the source stream never carries them.
type Customer struct {
	ExternalID    string
	Gender        string
	AgeBracket    string
	Type          string
	LoyaltyStatus string
	InferredFrom  string
}

// Campaign is unique by ID. Rows with an empty campaign id are not entities.
type Campaign struct {
	ID   string
	Name string
	Type string
}

// Transaction is the per-row fact. Store is required; customer and campaign
// references are nil when the source row carried no key.
type Transaction struct {
	ID                   string
	Timestamp            time.Time
	StoreID              int64
	CustomerID           *int64
	CampaignID           *int64
	TransactionValue     float64
	DiscountAmount       float64
	FinalAmount          float64
	PaymentMethod        string
	DurationSeconds      int
	UnitsTotal           int
	UniqueItems          int
	Weather              string
	DayOfWeek            string
	HourOfDay            int
	IsHoliday            bool
	IsPayday             bool
	InfluencedByCampaign bool
}

// TransactionItem references its Transaction by natural key and the Product
// by surrogate id. OriginalRequest and SubstitutionReason are set together or
// not at all.
type TransactionItem struct {
	TransactionID      string
	ProductID          int64
	Quantity           int
	UnitPrice          float64
	TotalPrice         float64
	DiscountApplied    float64
	WasSubstituted     bool
	OriginalRequest    *string
	SubstitutionReason *string
	IsPromo            bool
	PromoType          *string
}

// AudioTranscript exists only for rows with a non-empty transcript.
type AudioTranscript struct {
	TransactionID           string
	Language                string
	DurationSeconds         int
	Quality                 string
	BackgroundNoiseLevel    string
	FullTranscript          string
	TranscriptionConfidence float64
	KeyPhrases              []string
	RequestType             string
	StoreownerInfluence     string
	RecommendationGiven     bool
	SuggestionAccepted      bool
	SentimentScore          float64
	PrimaryIntent           string
	BrandMentions           []string
	ProductMentions         []string
	PriceMentioned          bool
	PromoInquiry            bool
}

// VideoSignal exists only for rows with non-empty detected-object data.
// ObjectsDetected preserves the source order.
type VideoSignal struct {
	TransactionID           string
	ObjectsDetected         []string
	PeopleCount             int
	ProductsVisible         []string
	ShelfVisibility         string
	BrowsingDurationSeconds int
	ProductsTouched         int
	DecisionTimeSeconds     int
	LightingQuality         string
	StoreOrganization       string
	QueueLength             int
	LookedAtPromo           bool
}
