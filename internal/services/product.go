package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
)

const (
	// DefaultMinLikeness is the search cut-off used when the caller gives none.
	DefaultMinLikeness   = 10
	minSearchTermLength  = 3
	maxProductNameLength = 255
)

// ProductInput carries the editable fields of a product.
type ProductInput struct {
	Name            string
	Amount          int
	AmountThreshold int
}

// ProductService encapsulates product use-cases. Every operation is scoped to
// the products of one owner; other users' products look like missing ones.
type ProductService struct {
	products Repository[*types.Product]
	images   Repository[*types.ProductImage]
}

func NewProductService(products Repository[*types.Product], images Repository[*types.ProductImage]) *ProductService {
	return &ProductService{products: products, images: images}
}

func (s *ProductService) List(ctx context.Context, owner *types.User) ([]*types.Product, error) {
	items, err := s.products.FindMany(ctx, store.Where(store.Eq(store.ColumnUserID, owner.ID)))
	if err != nil {
		return nil, wrap("list products", err)
	}
	for _, p := range items {
		if err := s.loadImages(ctx, p); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *ProductService) Get(ctx context.Context, owner *types.User, id int) (*types.Product, error) {
	product, err := s.products.Get(ctx, store.Where(
		store.Eq(store.ColumnID, id),
		store.Eq(store.ColumnUserID, owner.ID),
	))
	if err != nil {
		return nil, wrap("get product", err)
	}
	if err := s.loadImages(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) Create(ctx context.Context, owner *types.User, in ProductInput) (*types.Product, error) {
	in, err := validateProduct(in)
	if err != nil {
		return nil, err
	}
	product, err := s.products.Save(ctx, &types.Product{
		Name:            in.Name,
		Amount:          in.Amount,
		AmountThreshold: in.AmountThreshold,
		UserID:          owner.ID,
	})
	if err != nil {
		return nil, wrap("create product", err)
	}
	product.Images = []*types.ProductImage{}
	return product, nil
}

func (s *ProductService) Update(ctx context.Context, owner *types.User, id int, in ProductInput) (*types.Product, error) {
	in, err := validateProduct(in)
	if err != nil {
		return nil, err
	}
	product, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	product.Name = in.Name
	product.Amount = in.Amount
	product.AmountThreshold = in.AmountThreshold
	if _, err := s.products.Save(ctx, product); err != nil {
		return nil, wrap("update product", err)
	}
	return product, nil
}

// Delete soft-deletes a product and returns it.
func (s *ProductService) Delete(ctx context.Context, owner *types.User, id int) (*types.Product, error) {
	product, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	deleted, err := s.products.Delete(ctx, product, store.SoftDelete)
	if err != nil {
		return nil, wrap("delete product", err)
	}
	return deleted, nil
}

// Search ranks the owner's products by how closely their names match term.
// Results below minLikeness are dropped; the rest are ordered by likeness,
// best first. Zero keeps every product; a negative minLikeness uses
// DefaultMinLikeness.
func (s *ProductService) Search(ctx context.Context, owner *types.User, term string, minLikeness int) ([]types.SearchResult, error) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < minSearchTermLength {
		verr := &ValidationError{}
		verr.Add("term", "must be at least 3 characters")
		return nil, verr
	}
	if minLikeness < 0 {
		minLikeness = DefaultMinLikeness
	}

	items, err := s.List(ctx, owner)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(items))
	for _, p := range items {
		likeness := Likeness(term, p.Name)
		if likeness >= minLikeness {
			results = append(results, types.SearchResult{Likeness: likeness, Entity: p})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Likeness > results[j].Likeness
	})
	return results, nil
}

// Likeness scores the similarity of a and b from 0 to 100, ignoring case and
// surrounding whitespace. The score is the Levenshtein distance normalized by
// the longer string, which is stricter than an indel ratio: "apple" against
// "pineapple" scores 56 here where an indel ratio gives 71.
func Likeness(a, b string) int {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(dist)/float64(longest))))
}

func (s *ProductService) loadImages(ctx context.Context, product *types.Product) error {
	images, err := s.images.FindMany(ctx, store.Where(store.Eq(store.ColumnProductID, product.ID)))
	if err != nil {
		return wrap("load product images", err)
	}
	product.Images = images
	return nil
}

func validateProduct(in ProductInput) (ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	verr := &ValidationError{}
	switch n := utf8.RuneCountInString(in.Name); {
	case n == 0:
		verr.Add("name", "is required")
	case n > maxProductNameLength:
		verr.Add("name", "must be at most 255 characters")
	}
	if in.Amount < 0 {
		verr.Add("amount", "must not be negative")
	}
	if in.AmountThreshold < 0 {
		verr.Add("amount_threshold", "must not be negative")
	}
	return in, verr.OrNil()
}
