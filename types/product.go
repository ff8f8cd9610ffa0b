package types

import "encoding/json"

// Product is an inventory item owned by a single user.
type Product struct {
	Model

	// Name is the human readable product name. It is matched by search.
	Name string `json:"name" db:"name"`

	// Amount is the quantity currently in stock.
	Amount int `json:"amount" db:"amount"`

	// AmountThreshold is the stock level at or below which the product
	// is considered low on stock.
	AmountThreshold int `json:"amount_threshold" db:"amount_threshold"`

	// UserID identifies the owner of the product.
	UserID int `json:"user_id" db:"user_id"`

	// Images lists the product's pictures. It is populated by the service
	// layer and is not a column.
	Images []*ProductImage `json:"images" db:"-"`
}

// LowStock reports whether the amount has reached the threshold.
func (p *Product) LowStock() bool {
	return p.Amount <= p.AmountThreshold
}

// MarshalJSON adds the derived low_stock flag.
func (p Product) MarshalJSON() ([]byte, error) {
	type product Product
	return json.Marshal(struct {
		product
		LowStock bool `json:"low_stock"`
	}{product(p), p.LowStock()})
}

// ProductImage is a picture attached to a product and kept in object storage.
type ProductImage struct {
	Model

	// ProductID identifies the product the image belongs to.
	ProductID int `json:"product_id" db:"product_id"`

	// Name is the generated object name, including the file extension.
	Name string `json:"name" db:"name"`

	// Path is the storage prefix under which the object lives.
	Path string `json:"path" db:"path"`

	// ContentType is the MIME type the object was encoded with.
	ContentType string `json:"content_type" db:"content_type"`
}

// FullPath is the object key of the image inside its bucket.
func (i *ProductImage) FullPath() string {
	return i.Path + "/" + i.Name
}

// MarshalJSON adds the derived full_path field.
func (i ProductImage) MarshalJSON() ([]byte, error) {
	type image ProductImage
	return json.Marshal(struct {
		image
		FullPath string `json:"full_path"`
	}{image(i), i.FullPath()})
}

// SearchResult pairs a product with how closely its name matched the search term.
type SearchResult struct {
	// Likeness is a similarity score between 0 and 100.
	Likeness int `json:"likeness"`

	// Entity is the matched product.
	Entity *Product `json:"entity"`
}
