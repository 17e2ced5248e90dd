package record

import (
	"errors"
	"testing"
	"time"
)

// validVals returns a parseable value slice in canonical field order.
func validVals() []string {
	vals := make([]string, len(Fields))
	set := func(field, v string) { vals[FieldIndex[field]] = v }

	set(FieldTransactionID, "TXN0001")
	set(FieldTimestamp, "2024-03-15T14:05:00")
	set(FieldStoreID, "ST000123")
	set(FieldStoreName, "Aling Nena Store")
	set(FieldStoreType, "sari-sari")
	set(FieldRegion, "NCR")
	set(FieldProvince, "Metro Manila")
	set(FieldCity, "Quezon City")
	set(FieldBarangay, "Commonwealth")
	set(FieldLatitude, "14.6760")
	set(FieldLongitude, "121.0437")
	set(FieldEconomicClass, "C")
	set(FieldCustomerID, "CUST0042")
	set(FieldGender, "female")
	set(FieldAgeBracket, "25-34")
	set(FieldSKUID, "SKU001")
	set(FieldBrandName, "Winston")
	set(FieldProductName, "Winston Red 20s")
	set(FieldProductCategory, "tobacco")
	set(FieldProductSubcat, "cigarettes")
	set(FieldQuantity, "2")
	set(FieldUnitPrice, "145.00")
	set(FieldPesoValue, "290.00")
	set(FieldIsTBWAClient, "1")
	set(FieldCampaignID, "CAMP001")
	set(FieldWasSubstituted, "0")
	set(FieldOriginalRequest, "")
	set(FieldAudioLanguage, "tagalog")
	set(FieldAudioTranscript, "Pabili po ng Winston")
	set(FieldVideoObjects, "person|cigarette_pack")
	set(FieldWeather, "sunny")
	set(FieldDayOfWeek, "Friday")
	set(FieldHourOfDay, "14")
	return vals
}

func TestParseValidRow(t *testing.T) {
	t.Parallel()

	r, err := Parse(2, validVals())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer r.Free()

	if r.TransactionID != "TXN0001" {
		t.Errorf("TransactionID = %q", r.TransactionID)
	}
	want := time.Date(2024, 3, 15, 14, 5, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
	}
	if r.StoreCode != "ST000123" || r.SKU != "SKU001" || r.BrandName != "Winston" {
		t.Errorf("keys = %q %q %q", r.StoreCode, r.SKU, r.BrandName)
	}
	if r.Quantity != 2 || r.UnitPrice != 145.00 || r.PesoValue != 290.00 {
		t.Errorf("numerics = %d %v %v", r.Quantity, r.UnitPrice, r.PesoValue)
	}
	if !r.IsTBWAClient || r.WasSubstituted {
		t.Errorf("flags = %v %v", r.IsTBWAClient, r.WasSubstituted)
	}
	if r.Latitude != 14.6760 || r.Longitude != 121.0437 {
		t.Errorf("coords = %v %v", r.Latitude, r.Longitude)
	}
	if r.Line != 2 {
		t.Errorf("Line = %d", r.Line)
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	t.Parallel()

	for _, tc := range []string{
		"2024-03-15T14:05:00",
		"2024-03-15 14:05:00",
		"2024-03-15T14:05:00Z",
	} {
		vals := validVals()
		vals[FieldIndex[FieldTimestamp]] = tc
		r, err := Parse(1, vals)
		if err != nil {
			t.Errorf("Parse(%q): %v", tc, err)
			continue
		}
		r.Free()
	}
}

func TestParseRequiredFields(t *testing.T) {
	t.Parallel()

	for _, field := range []string{
		FieldTransactionID, FieldStoreID, FieldSKUID, FieldBrandName,
	} {
		vals := validVals()
		vals[FieldIndex[field]] = ""
		_, err := Parse(7, vals)

		var merr *MalformedError
		if !errors.As(err, &merr) {
			t.Fatalf("Parse with empty %s: err = %v, want MalformedError", field, err)
		}
		if merr.Field != field || merr.Line != 7 {
			t.Errorf("MalformedError = {line %d, field %s}, want {line 7, field %s}", merr.Line, merr.Field, field)
		}
	}
}

func TestParseNumericFieldsAreHardErrors(t *testing.T) {
	t.Parallel()

	for field, bad := range map[string]string{
		FieldLatitude:  "north",
		FieldLongitude: "",
		FieldQuantity:  "2.5",
		FieldUnitPrice: "abc",
		FieldPesoValue: "",
		FieldHourOfDay: "noon",
	} {
		vals := validVals()
		vals[FieldIndex[field]] = bad
		if _, err := Parse(1, vals); err == nil {
			t.Errorf("Parse with %s=%q: want error", field, bad)
		}
	}
}

func TestParseFlagAcceptsOnlyZeroOne(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "true", "yes", "2"} {
		vals := validVals()
		vals[FieldIndex[FieldWasSubstituted]] = bad
		var merr *MalformedError
		if _, err := Parse(1, vals); !errors.As(err, &merr) || merr.Field != FieldWasSubstituted {
			t.Errorf("Parse with was_substituted=%q: err = %v", bad, err)
		}
	}
}

func TestParseOptionalHourOfDay(t *testing.T) {
	t.Parallel()

	vals := validVals()
	vals[FieldIndex[FieldHourOfDay]] = ""
	r, err := Parse(1, vals)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer r.Free()
	if r.HourOfDay != 0 {
		t.Errorf("HourOfDay = %d, want 0", r.HourOfDay)
	}
}

func TestParseShortRowTreatsMissingAsEmpty(t *testing.T) {
	t.Parallel()

	// Truncate after the flags; optional trailing fields default to empty.
	vals := validVals()[:FieldIndex[FieldOriginalRequest]]
	r, err := Parse(1, vals)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer r.Free()
	if r.AudioTranscript != "" || r.VideoObjects != "" {
		t.Errorf("trailing fields = %q %q, want empty", r.AudioTranscript, r.VideoObjects)
	}
}

func TestRowPoolReuseZeroes(t *testing.T) {
	t.Parallel()

	r := GetRow()
	r.TransactionID = "TXN9999"
	r.Quantity = 5
	r.Free()

	// A pooled row must come back zeroed no matter who used it last.
	r2 := GetRow()
	defer r2.Free()
	if r2.TransactionID != "" || r2.Quantity != 0 {
		t.Errorf("reused row not zeroed: %q %d", r2.TransactionID, r2.Quantity)
	}
}
