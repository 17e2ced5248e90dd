package registry

import (
	"testing"
	"time"

	"scoutetl/internal/model"
	"scoutetl/internal/record"
)

func row(txn, store, sku, brand, customer, campaign string) *record.Row {
	return &record.Row{
		TransactionID: txn,
		Timestamp:     time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC),
		StoreCode:     store,
		StoreName:     "Store " + store,
		SKU:           sku,
		BrandName:     brand,
		ProductName:   brand + " Product",
		UnitPrice:     145,
		CustomerID:    customer,
		Gender:        "female",
		AgeBracket:    "25-34",
		CampaignID:    campaign,
	}
}

func TestObserveFirstSeenWins(t *testing.T) {
	t.Parallel()

	g := New()
	first := row("TXN1", "ST01", "SKU1", "Winston", "CUST1", "")
	first.StoreName = "Original Name"
	g.Observe(first)

	repeat := row("TXN2", "ST01", "SKU1", "Winston", "CUST1", "")
	repeat.StoreName = "Changed Name"
	g.Observe(repeat)

	if g.Rows() != 2 {
		t.Errorf("Rows = %d, want 2", g.Rows())
	}
	if len(g.Stores()) != 1 {
		t.Fatalf("stores = %d, want 1", len(g.Stores()))
	}
	if g.Stores()[0].Name != "Original Name" {
		t.Errorf("store name = %q, want first observation", g.Stores()[0].Name)
	}
	if len(g.Brands()) != 1 || len(g.Products()) != 1 || len(g.Customers()) != 1 {
		t.Errorf("entities = %d brands %d products %d customers",
			len(g.Brands()), len(g.Products()), len(g.Customers()))
	}
}

func TestObserveEmptyCustomerAndCampaignAreNotEntities(t *testing.T) {
	t.Parallel()

	g := New()
	g.Observe(row("TXN1", "ST01", "SKU1", "Winston", "", ""))

	if len(g.Customers()) != 0 {
		t.Errorf("customers = %d, want 0", len(g.Customers()))
	}
	if len(g.Campaigns()) != 0 {
		t.Errorf("campaigns = %d, want 0", len(g.Campaigns()))
	}
}

func TestObserveCustomerDefaults(t *testing.T) {
	t.Parallel()

	g := New()
	g.Observe(row("TXN1", "ST01", "SKU1", "Winston", "CUST1", ""))

	c := g.Customers()[0]
	if c.Type != model.CustomerTypeRegular {
		t.Errorf("Type = %q", c.Type)
	}
	if c.LoyaltyStatus != model.LoyaltyStatusNonMember {
		t.Errorf("LoyaltyStatus = %q", c.LoyaltyStatus)
	}
	if c.InferredFrom != model.InferredFromTransactions {
		t.Errorf("InferredFrom = %q", c.InferredFrom)
	}
	if c.Gender != "female" || c.AgeBracket != "25-34" {
		t.Errorf("profile = %q %q", c.Gender, c.AgeBracket)
	}
}

func TestObserveCampaignCatalog(t *testing.T) {
	t.Parallel()

	g := New()
	g.Observe(row("TXN1", "ST01", "SKU1", "Winston", "", "CAMP001"))
	g.Observe(row("TXN2", "ST01", "SKU1", "Winston", "", "CAMP999"))

	if len(g.Campaigns()) != 2 {
		t.Fatalf("campaigns = %d, want 2", len(g.Campaigns()))
	}

	known := g.Campaigns()[0]
	if known.Name != "Summer Sarap 2024" || known.Type != model.CampaignTypeBelowTheLine {
		t.Errorf("catalog campaign = %+v", known)
	}

	// Unknown ids still load, with the id standing in for the name.
	unknown := g.Campaigns()[1]
	if unknown.Name != "CAMP999" || unknown.Type != model.CampaignTypeBelowTheLine {
		t.Errorf("unknown campaign = %+v", unknown)
	}
}

func TestObserveProductCarriesBrandKey(t *testing.T) {
	t.Parallel()

	g := New()
	g.Observe(row("TXN1", "ST01", "SKU1", "Winston", "", ""))
	g.Observe(row("TXN2", "ST01", "SKU2", "Mevius", "", ""))

	p := g.Products()
	if len(p) != 2 {
		t.Fatalf("products = %d, want 2", len(p))
	}
	if p[0].BrandName != "Winston" || p[1].BrandName != "Mevius" {
		t.Errorf("brand keys = %q %q", p[0].BrandName, p[1].BrandName)
	}
	if p[0].ListPrice != 145 {
		t.Errorf("ListPrice = %v", p[0].ListPrice)
	}
	if len(g.Brands()) != 2 {
		t.Errorf("brands = %d, want 2", len(g.Brands()))
	}
}
