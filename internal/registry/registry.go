// Package registry accumulates the distinct reference entities implicitly
// declared by a flat record stream. The stream never states its entity
// universe up front; repetition is the only signal, so pass 1 of the loader
// feeds every row through Observe and the first observation of each natural
// key wins.
package registry

import (
	"scoutetl/internal/model"
	"scoutetl/internal/record"
)

// campaignCatalog carries the source system's campaign names and types.
// Unknown non-empty ids still load, falling back to the id itself.
var campaignCatalog = map[string]model.Campaign{
	"CAMP001": {ID: "CAMP001", Name: "Summer Sarap 2024", Type: model.CampaignTypeBelowTheLine},
	"CAMP002": {ID: "CAMP002", Name: "Payday Promo March", Type: model.CampaignTypeBelowTheLine},
	"CAMP003": {ID: "CAMP003", Name: "New Variant Launch", Type: model.CampaignTypeBelowTheLine},
	"CAMP004": {ID: "CAMP004", Name: "Back to School", Type: model.CampaignTypeBelowTheLine},
}

// Registry is caller-owned, single-goroutine state for pass 1. It is not safe
// for concurrent Observe calls; the engine keeps pass 1 sequential because
// the full entity universe must be known before any surrogate id is
// requested.
type Registry struct {
	brandIx    map[string]struct{}
	productIx  map[string]struct{}
	storeIx    map[string]struct{}
	customerIx map[string]struct{}
	campaignIx map[string]struct{}

	brands    []model.Brand
	products  []model.Product
	stores    []model.Store
	customers []model.Customer
	campaigns []model.Campaign

	rows int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		brandIx:    map[string]struct{}{},
		productIx:  map[string]struct{}{},
		storeIx:    map[string]struct{}{},
		customerIx: map[string]struct{}{},
		campaignIx: map[string]struct{}{},
	}
}

// Observe records the entities carried by one row. Later observations of a
// natural key already seen are ignored: reference attributes come from the
// first observation, only fact rows differ.
func (g *Registry) Observe(r *record.Row) {
	g.rows++

	if _, ok := g.brandIx[r.BrandName]; !ok {
		g.brandIx[r.BrandName] = struct{}{}
		g.brands = append(g.brands, model.Brand{
			Name:         r.BrandName,
			IsTBWAClient: r.IsTBWAClient,
		})
	}

	if _, ok := g.productIx[r.SKU]; !ok {
		g.productIx[r.SKU] = struct{}{}
		g.products = append(g.products, model.Product{
			SKU:         r.SKU,
			BrandName:   r.BrandName,
			Name:        r.ProductName,
			Category:    r.ProductCategory,
			Subcategory: r.ProductSubcat,
			ListPrice:   r.UnitPrice,
		})
	}

	if _, ok := g.storeIx[r.StoreCode]; !ok {
		g.storeIx[r.StoreCode] = struct{}{}
		g.stores = append(g.stores, model.Store{
			Code:          r.StoreCode,
			Name:          r.StoreName,
			Type:          r.StoreType,
			Region:        r.Region,
			Province:      r.Province,
			City:          r.City,
			Barangay:      r.Barangay,
			Latitude:      r.Latitude,
			Longitude:     r.Longitude,
			EconomicClass: r.EconomicClass,
		})
	}

	// Absence of a customer is a valid state, not an entity.
	if r.CustomerID != "" {
		if _, ok := g.customerIx[r.CustomerID]; !ok {
			g.customerIx[r.CustomerID] = struct{}{}
			g.customers = append(g.customers, model.Customer{
				ExternalID:    r.CustomerID,
				Gender:        r.Gender,
				AgeBracket:    r.AgeBracket,
				Type:          model.CustomerTypeRegular,
				LoyaltyStatus: model.LoyaltyStatusNonMember,
				InferredFrom:  model.InferredFromTransactions,
			})
		}
	}

	// Same for campaigns: empty keys are filtered, never errors.
	if r.CampaignID != "" {
		if _, ok := g.campaignIx[r.CampaignID]; !ok {
			g.campaignIx[r.CampaignID] = struct{}{}
			if c, ok := campaignCatalog[r.CampaignID]; ok {
				g.campaigns = append(g.campaigns, c)
			} else {
				g.campaigns = append(g.campaigns, model.Campaign{
					ID:   r.CampaignID,
					Name: r.CampaignID,
					Type: model.CampaignTypeBelowTheLine,
				})
			}
		}
	}
}

// Rows returns how many rows were observed.
func (g *Registry) Rows() int { return g.rows }

// Brands returns the distinct brands in first-seen order.
func (g *Registry) Brands() []model.Brand { return g.brands }

// Products returns the distinct products in first-seen order, each carrying
// its owning brand's natural key.
func (g *Registry) Products() []model.Product { return g.products }

// Stores returns the distinct stores in first-seen order.
func (g *Registry) Stores() []model.Store { return g.stores }

// Customers returns the distinct customers in first-seen order.
func (g *Registry) Customers() []model.Customer { return g.customers }

// Campaigns returns the distinct campaigns (non-empty keys only) in
// first-seen order.
func (g *Registry) Campaigns() []model.Campaign { return g.campaigns }
