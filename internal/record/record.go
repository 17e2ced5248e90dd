// Package record defines the canonical flat-record schema and the typed,
// pooled Row the rest of the pipeline consumes. Parsing is pure: a positional
// value slice in canonical field order goes in, a typed Row or a
// *MalformedError comes out.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Canonical field names, in the order Parse expects values.
const (
	FieldTransactionID   = "transaction_id"
	FieldTimestamp       = "timestamp"
	FieldStoreID         = "store_id"
	FieldStoreName       = "store_name"
	FieldStoreType       = "store_type"
	FieldRegion          = "region"
	FieldProvince        = "province"
	FieldCity            = "city"
	FieldBarangay        = "barangay"
	FieldLatitude        = "latitude"
	FieldLongitude       = "longitude"
	FieldEconomicClass   = "economic_class"
	FieldCustomerID      = "customer_id"
	FieldGender          = "gender"
	FieldAgeBracket      = "age_bracket"
	FieldSKUID           = "sku_id"
	FieldBrandName       = "brand_name"
	FieldProductName     = "product_name"
	FieldProductCategory = "product_category"
	FieldProductSubcat   = "product_subcat"
	FieldQuantity        = "quantity"
	FieldUnitPrice       = "unit_price"
	FieldPesoValue       = "peso_value"
	FieldIsTBWAClient    = "is_tbwa_client"
	FieldCampaignID      = "campaign_id"
	FieldWasSubstituted  = "was_substituted"
	FieldOriginalRequest = "original_request"
	FieldAudioLanguage   = "audio_language"
	FieldAudioTranscript = "audio_transcript"
	FieldVideoObjects    = "video_objects"
	FieldWeather         = "weather"
	FieldDayOfWeek       = "day_of_week"
	FieldHourOfDay       = "hour_of_day"
)

// Fields is the canonical field order. Parse indexes its input by this order;
// parsers map source headers onto it.
var Fields = []string{
	FieldTransactionID, FieldTimestamp, FieldStoreID, FieldStoreName,
	FieldStoreType, FieldRegion, FieldProvince, FieldCity, FieldBarangay,
	FieldLatitude, FieldLongitude, FieldEconomicClass, FieldCustomerID,
	FieldGender, FieldAgeBracket, FieldSKUID, FieldBrandName,
	FieldProductName, FieldProductCategory, FieldProductSubcat,
	FieldQuantity, FieldUnitPrice, FieldPesoValue, FieldIsTBWAClient,
	FieldCampaignID, FieldWasSubstituted, FieldOriginalRequest,
	FieldAudioLanguage, FieldAudioTranscript, FieldVideoObjects,
	FieldWeather, FieldDayOfWeek, FieldHourOfDay,
}

// FieldIndex maps canonical field name to its position in Fields.
var FieldIndex = func() map[string]int {
	m := make(map[string]int, len(Fields))
	for i, f := range Fields {
		m[f] = i
	}
	return m
}()

// MalformedError is row-scoped: the offending row is skipped and logged, the
// run continues. It names the field that failed to parse.
type MalformedError struct {
	Line  int
	Field string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed record at line %d: field %s: %v", e.Line, e.Field, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Row is a pooled, typed flat record.
//
// Ownership contract (same as the upstream row pool this replaces):
//   - Exactly one goroutine owns a Row at a time; channels transfer ownership.
//   - The final consumer calls Free() when done.
//   - On cancellation paths, call Drop() instead so a row still visible to a
//     draining stage is never recycled underneath it.
type Row struct {
	Line int

	TransactionID string
	Timestamp     time.Time

	StoreCode     string
	StoreName     string
	StoreType     string
	Region        string
	Province      string
	City          string
	Barangay      string
	Latitude      float64
	Longitude     float64
	EconomicClass string

	CustomerID string
	Gender     string
	AgeBracket string

	SKU             string
	BrandName       string
	ProductName     string
	ProductCategory string
	ProductSubcat   string

	Quantity     int
	UnitPrice    float64
	PesoValue    float64
	IsTBWAClient bool

	CampaignID      string
	WasSubstituted  bool
	OriginalRequest string

	AudioLanguage   string
	AudioTranscript string
	VideoObjects    string

	Weather   string
	DayOfWeek string
	HourOfDay int
}

var rowPool sync.Pool

// GetRow returns a zeroed pooled Row.
func GetRow() *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		*r = Row{}
		return r
	}
	return &Row{}
}

// Free returns the Row to the pool. Call only when no other goroutine can
// still observe it.
func (r *Row) Free() { rowPool.Put(r) }

// Drop discards the Row without re-pooling. Use on cancellation paths.
func (r *Row) Drop() {}

// timestampLayouts accepted for the timestamp field. The source generator
// emits a zone-less ISO-8601 instant; RFC3339 inputs are accepted too.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Parse materializes one flat record into a typed Row.
//
// vals must be aligned to Fields; missing trailing values are treated as
// empty. Numeric and timestamp failures are hard errors for the row, never
// silently coerced; boolean flags accept only "0" and "1".
func Parse(line int, vals []string) (*Row, error) {
	get := func(i int) string {
		if i < len(vals) {
			return vals[i]
		}
		return ""
	}

	r := GetRow()
	r.Line = line

	fail := func(field string, err error) (*Row, error) {
		r.Free()
		return nil, &MalformedError{Line: line, Field: field, Err: err}
	}

	r.TransactionID = get(FieldIndex[FieldTransactionID])
	if r.TransactionID == "" {
		return fail(FieldTransactionID, fmt.Errorf("empty"))
	}

	ts, err := parseTimestamp(get(FieldIndex[FieldTimestamp]))
	if err != nil {
		return fail(FieldTimestamp, err)
	}
	r.Timestamp = ts

	r.StoreCode = get(FieldIndex[FieldStoreID])
	if r.StoreCode == "" {
		return fail(FieldStoreID, fmt.Errorf("empty"))
	}
	r.StoreName = get(FieldIndex[FieldStoreName])
	r.StoreType = get(FieldIndex[FieldStoreType])
	r.Region = get(FieldIndex[FieldRegion])
	r.Province = get(FieldIndex[FieldProvince])
	r.City = get(FieldIndex[FieldCity])
	r.Barangay = get(FieldIndex[FieldBarangay])

	if r.Latitude, err = parseFloat(get(FieldIndex[FieldLatitude])); err != nil {
		return fail(FieldLatitude, err)
	}
	if r.Longitude, err = parseFloat(get(FieldIndex[FieldLongitude])); err != nil {
		return fail(FieldLongitude, err)
	}
	r.EconomicClass = get(FieldIndex[FieldEconomicClass])

	r.CustomerID = get(FieldIndex[FieldCustomerID])
	r.Gender = get(FieldIndex[FieldGender])
	r.AgeBracket = get(FieldIndex[FieldAgeBracket])

	r.SKU = get(FieldIndex[FieldSKUID])
	if r.SKU == "" {
		return fail(FieldSKUID, fmt.Errorf("empty"))
	}
	r.BrandName = get(FieldIndex[FieldBrandName])
	if r.BrandName == "" {
		return fail(FieldBrandName, fmt.Errorf("empty"))
	}
	r.ProductName = get(FieldIndex[FieldProductName])
	r.ProductCategory = get(FieldIndex[FieldProductCategory])
	r.ProductSubcat = get(FieldIndex[FieldProductSubcat])

	if r.Quantity, err = parseInt(get(FieldIndex[FieldQuantity])); err != nil {
		return fail(FieldQuantity, err)
	}
	if r.UnitPrice, err = parseFloat(get(FieldIndex[FieldUnitPrice])); err != nil {
		return fail(FieldUnitPrice, err)
	}
	if r.PesoValue, err = parseFloat(get(FieldIndex[FieldPesoValue])); err != nil {
		return fail(FieldPesoValue, err)
	}
	if r.IsTBWAClient, err = parseFlag(get(FieldIndex[FieldIsTBWAClient])); err != nil {
		return fail(FieldIsTBWAClient, err)
	}

	r.CampaignID = get(FieldIndex[FieldCampaignID])
	if r.WasSubstituted, err = parseFlag(get(FieldIndex[FieldWasSubstituted])); err != nil {
		return fail(FieldWasSubstituted, err)
	}
	r.OriginalRequest = get(FieldIndex[FieldOriginalRequest])

	r.AudioLanguage = get(FieldIndex[FieldAudioLanguage])
	r.AudioTranscript = get(FieldIndex[FieldAudioTranscript])
	r.VideoObjects = get(FieldIndex[FieldVideoObjects])

	r.Weather = get(FieldIndex[FieldWeather])
	r.DayOfWeek = get(FieldIndex[FieldDayOfWeek])
	if v := get(FieldIndex[FieldHourOfDay]); v != "" {
		if r.HourOfDay, err = parseInt(v); err != nil {
			return fail(FieldHourOfDay, err)
		}
	}

	return r, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 instant: %q", s)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a decimal: %q", s)
	}
	return v, nil
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return v, nil
}

// parseFlag accepts exactly the source system's flag encodings.
func parseFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("not a 0/1 flag: %q", s)
	}
}
