// Package refload persists the discovered reference entities in dependency
// order and resolves their surrogate ids. Brands load before products because
// product rows carry brand_id; stores, customers and campaigns have no
// cross-references and load concurrently.
package refload

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"scoutetl/internal/model"
	"scoutetl/internal/registry"
	"scoutetl/internal/storage"
)

// UnresolvedReferenceError reports a row that names an entity key absent from
// the id maps. During reference load it means the stream contradicted itself
// between passes; during fanout it means a fact row references an entity that
// pass 1 never observed.
type UnresolvedReferenceError struct {
	Entity string
	Key    string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s reference %q", e.Entity, e.Key)
}

// IDMaps holds natural key to surrogate id for every reference table.
type IDMaps struct {
	Brands    map[string]int64
	Products  map[string]int64
	Stores    map[string]int64
	Customers map[string]int64
	Campaigns map[string]int64
}

// Load upserts the registry's entities and returns the resolved id maps.
// Idempotent: re-running against a populated database yields the same ids.
func Load(ctx context.Context, repo storage.Repository, reg *registry.Registry) (*IDMaps, error) {
	ids := &IDMaps{}

	brandRows := make([][]any, 0, len(reg.Brands()))
	for _, b := range reg.Brands() {
		brandRows = append(brandRows, []any{b.Name, b.IsTBWAClient})
	}
	brands, err := repo.UpsertEntities(ctx, storage.BrandsEntity, brandRows)
	if err != nil {
		return nil, fmt.Errorf("load brands: %w", err)
	}
	ids.Brands = brands

	productRows, err := ProductRows(reg.Products(), brands)
	if err != nil {
		return nil, err
	}
	products, err := repo.UpsertEntities(ctx, storage.ProductsEntity, productRows)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	ids.Products = products

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows := make([][]any, 0, len(reg.Stores()))
		for _, s := range reg.Stores() {
			rows = append(rows, []any{
				s.Code, s.Name, s.Type, s.Region, s.Province,
				s.City, s.Barangay, s.Latitude, s.Longitude, s.EconomicClass,
			})
		}
		m, err := repo.UpsertEntities(gctx, storage.StoresEntity, rows)
		if err != nil {
			return fmt.Errorf("load stores: %w", err)
		}
		ids.Stores = m
		return nil
	})
	g.Go(func() error {
		rows := make([][]any, 0, len(reg.Customers()))
		for _, c := range reg.Customers() {
			rows = append(rows, []any{
				c.ExternalID, c.Gender, c.AgeBracket,
				c.Type, c.LoyaltyStatus, c.InferredFrom,
			})
		}
		m, err := repo.UpsertEntities(gctx, storage.CustomersEntity, rows)
		if err != nil {
			return fmt.Errorf("load customers: %w", err)
		}
		ids.Customers = m
		return nil
	})
	g.Go(func() error {
		rows := make([][]any, 0, len(reg.Campaigns()))
		for _, c := range reg.Campaigns() {
			rows = append(rows, []any{c.ID, c.Name, c.Type})
		}
		m, err := repo.UpsertEntities(gctx, storage.CampaignsEntity, rows)
		if err != nil {
			return fmt.Errorf("load campaigns: %w", err)
		}
		ids.Campaigns = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ProductRows renders products into upsert rows, resolving each brand
// reference against the freshly loaded brand ids. Exported for tests; a
// registry cannot produce a product whose brand it has not seen, so an
// unresolved brand here indicates map corruption, not bad input.
func ProductRows(products []model.Product, brandIDs map[string]int64) ([][]any, error) {
	rows := make([][]any, 0, len(products))
	for _, p := range products {
		brandID, ok := brandIDs[p.BrandName]
		if !ok {
			return nil, &UnresolvedReferenceError{Entity: "brand", Key: p.BrandName}
		}
		rows = append(rows, []any{
			p.SKU, brandID, p.Name, p.Category, p.Subcategory, p.ListPrice,
		})
	}
	return rows, nil
}
