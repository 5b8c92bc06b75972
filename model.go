package storefront

import (
	"context"
	"io"
)

// ProductRef is the product embedded in a cart item
type ProductRef struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Category string  `json:"category"`
	Brand    string  `json:"brand"`
	Image    string  `json:"image,omitempty"`
}

// CartItem mirrors one server-side cart line
type CartItem struct {
	ID              string     `json:"_id"`
	OrderedQuantity int        `json:"orderedQuantity"`
	Product         ProductRef `json:"product"`
}

// ProductCard is one entry of the seller listing
type ProductCard struct {
	ID               string  `json:"_id"`
	Name             string  `json:"name"`
	Brand            string  `json:"brand"`
	Price            float64 `json:"price"`
	ShortDescription string  `json:"shortDescription"`
	Image            string  `json:"image,omitempty"`
}

// AddProductInput is the add-product form payload
type AddProductInput struct {
	Name         string  `json:"name" validate:"required,max=55"`
	Brand        string  `json:"brand" validate:"required,max=55"`
	Price        float64 `json:"price" validate:"gte=0"`
	Quantity     int     `json:"quantity" validate:"gte=1"`
	Category     string  `json:"category" validate:"required"`
	FreeShipping bool    `json:"freeShipping"`
	Description  string  `json:"description" validate:"required,min=10,max=1000"`
	Image        string  `json:"image,omitempty" validate:"omitempty,url"`
}

// RegisterInput is the registration form payload
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,max=20"`
	FirstName string `json:"firstName" validate:"required,max=25"`
	LastName  string `json:"lastName" validate:"required,max=25"`
	DOB       string `json:"dob,omitempty"`
	Gender    string `json:"gender" validate:"required,oneof=male female other"`
	Role      Role   `json:"role" validate:"required,oneof=buyer seller"`
	Address   string `json:"address" validate:"required,max=255"`
}

// LoginInput is the login form payload
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ImageUploader stores a product image with a third-party asset host and
// returns its public URL
type ImageUploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

// CartSubtotal sums price times ordered quantity over items
func CartSubtotal(items []CartItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Product.Price * float64(it.OrderedQuantity)
	}
	return total
}

// DataOf returns the entry's data as T when the entry succeeded
func DataOf[T any](e Entry) (T, bool) {
	var zero T
	if e.Status != StatusSuccess {
		return zero, false
	}
	v, ok := e.Data.(T)
	return v, ok
}
