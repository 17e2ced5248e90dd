package storage

import "strings"

// Target table names.
const (
	TableBrands           = "brands"
	TableProducts         = "products"
	TableStores           = "stores"
	TableCustomers        = "customers"
	TableCampaigns        = "campaigns"
	TableTransactions     = "transactions"
	TableTransactionItems = "transaction_items"
	TableAudioTranscripts = "audio_transcripts"
	TableVideoSignals     = "video_signals"
)

// ListSeparator joins list-valued fields (detected objects, mentions) into a
// single text column so all backends store them identically. It matches the
// source stream's own delimiter.
const ListSeparator = "|"

// JoinList renders a list field for storage.
func JoinList(items []string) string { return strings.Join(items, ListSeparator) }

// FactSpec describes one fact table write target: the insert columns in row
// order, and the conflict target that makes re-runs idempotent.
type FactSpec struct {
	Table           string
	Columns         []string
	ConflictColumns []string
}

var (
	// TransactionsFact is keyed by the source transaction identifier; re-runs
	// hit the conflict target and are ignored.
	TransactionsFact = FactSpec{
		Table: TableTransactions,
		Columns: []string{
			"transaction_id", "ts", "store_id", "customer_id", "campaign_id",
			"transaction_value", "discount_amount", "final_amount",
			"payment_method", "duration_seconds", "units_total", "unique_items",
			"weather", "day_of_week", "hour_of_day",
			"is_holiday", "is_payday", "influenced_by_campaign",
		},
		ConflictColumns: []string{"transaction_id"},
	}

	TransactionItemsFact = FactSpec{
		Table: TableTransactionItems,
		Columns: []string{
			"transaction_id", "product_id", "quantity", "unit_price",
			"total_price", "discount_applied", "was_substituted",
			"original_request", "substitution_reason", "is_promo", "promo_type",
		},
		ConflictColumns: []string{"transaction_id", "product_id"},
	}

	AudioTranscriptsFact = FactSpec{
		Table: TableAudioTranscripts,
		Columns: []string{
			"transaction_id", "audio_language", "audio_duration_seconds",
			"audio_quality", "background_noise_level", "full_transcript",
			"transcription_confidence", "key_phrases", "request_type",
			"storeowner_influence", "recommendation_given", "suggestion_accepted",
			"sentiment_score", "primary_intent", "brand_mentions",
			"product_mentions", "price_mentioned", "promo_inquiry",
		},
		ConflictColumns: []string{"transaction_id"},
	}

	VideoSignalsFact = FactSpec{
		Table: TableVideoSignals,
		Columns: []string{
			"transaction_id", "objects_detected", "people_count",
			"products_visible", "shelf_visibility", "browsing_duration_seconds",
			"products_touched", "decision_time_seconds", "lighting_quality",
			"store_organization", "queue_length", "looked_at_promo",
		},
		ConflictColumns: []string{"transaction_id"},
	}
)

// Reference entity specs. Conflict target is always the natural key; update
// columns are the attributes the source system treats as mutable on re-load.
var (
	BrandsEntity = EntitySpec{
		Table:         TableBrands,
		KeyColumn:     "brand_name",
		IDColumn:      "id",
		Columns:       []string{"brand_name", "is_tbwa_client"},
		UpdateColumns: []string{"is_tbwa_client"},
	}

	ProductsEntity = EntitySpec{
		Table:     TableProducts,
		KeyColumn: "sku_id",
		IDColumn:  "id",
		Columns: []string{
			"sku_id", "brand_id", "product_name",
			"product_category", "product_subcat", "msrp",
		},
		UpdateColumns: []string{"product_name", "msrp"},
	}

	StoresEntity = EntitySpec{
		Table:     TableStores,
		KeyColumn: "store_id",
		IDColumn:  "id",
		Columns: []string{
			"store_id", "store_name", "store_type", "region", "province",
			"city_municipality", "barangay", "latitude", "longitude",
			"economic_class",
		},
		UpdateColumns: []string{"store_name"},
	}

	CustomersEntity = EntitySpec{
		Table:     TableCustomers,
		KeyColumn: "external_id",
		IDColumn:  "id",
		Columns: []string{
			"external_id", "gender", "age_bracket",
			"customer_type", "loyalty_status", "inferred_from",
		},
	}

	CampaignsEntity = EntitySpec{
		Table:         TableCampaigns,
		KeyColumn:     "campaign_id",
		IDColumn:      "id",
		Columns:       []string{"campaign_id", "campaign_name", "campaign_type"},
		UpdateColumns: nil,
	}
)
