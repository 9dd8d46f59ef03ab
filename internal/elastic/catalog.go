// Package elastic implements catalog access against the commerce backend.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// Money is a priced amount with its display form as the backend formats it.
type Money struct {
	Amount    decimal.Decimal
	Currency  string
	Formatted string
}

// Product is one catalog entry.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       Money
	ImageURL    string
}

// ProductPage is one page of the catalog.
type ProductPage struct {
	Products    []Product
	CurrentPage int
	TotalPages  int
}

// Category is a catalog category used by the Messenger front-end.
type Category struct {
	ID   string
	Name string
	Slug string
}

type productData struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       []struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"price"`
	Relationships struct {
		MainImage struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"main_image"`
	} `json:"relationships"`
}

func (p productData) toProduct() Product {
	out := Product{ID: p.ID, Name: p.Name, Description: p.Description}
	if len(p.Price) > 0 {
		out.Price = Money{
			// Catalog prices are integer major units in this store.
			Amount:   decimal.NewFromInt(p.Price[0].Amount),
			Currency: p.Price[0].Currency,
		}
	}
	return out
}

// GetProducts returns one catalog page.
func (c *Client) GetProducts(ctx context.Context, offset, limit int) (ProductPage, error) {
	var envelope struct {
		Data []productData `json:"data"`
		Meta struct {
			Page struct {
				Total   int `json:"total"`
				Current int `json:"current"`
			} `json:"page"`
		} `json:"meta"`
	}
	path := fmt.Sprintf("/v2/products?page[limit]=%d&page[offset]=%d", limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return ProductPage{}, err
	}

	page := ProductPage{
		CurrentPage: envelope.Meta.Page.Current,
		TotalPages:  envelope.Meta.Page.Total,
	}
	for _, item := range envelope.Data {
		page.Products = append(page.Products, item.toProduct())
	}
	slog.Debug("elastic GetProducts succeeded", "count", len(page.Products), "page", page.CurrentPage, "total_pages", page.TotalPages)
	return page, nil
}

// GetProductsByCategory returns products belonging to a category slug.
func (c *Client) GetProductsByCategory(ctx context.Context, slug string) ([]Product, error) {
	var envelope struct {
		Data []productData `json:"data"`
	}
	path := "/v2/products?filter=" + url.QueryEscape(fmt.Sprintf("eq(category.slug,%s)", slug))
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(envelope.Data))
	for _, item := range envelope.Data {
		products = append(products, item.toProduct())
	}
	slog.Debug("elastic GetProductsByCategory succeeded", "slug", slug, "count", len(products))
	return products, nil
}

// GetCategories lists the catalog categories.
func (c *Client) GetCategories(ctx context.Context) ([]Category, error) {
	var envelope struct {
		Data []Category `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/categories", nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// GetProduct returns one product with its main image resolved to a URL.
func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	var envelope struct {
		Data productData `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/products/"+productID, nil, &envelope); err != nil {
		return Product{}, err
	}
	product := envelope.Data.toProduct()

	if imageID := envelope.Data.Relationships.MainImage.Data.ID; imageID != "" {
		link, err := c.GetFileLink(ctx, imageID)
		if err != nil {
			// A missing image is not worth failing the product card over.
			slog.Warn("elastic GetProduct image lookup failed", "error", err, "product_id", productID)
		} else {
			product.ImageURL = link
		}
	}
	return product, nil
}

// GetFileLink resolves a stored file id to its public URL.
func (c *Client) GetFileLink(ctx context.Context, fileID string) (string, error) {
	var envelope struct {
		Data struct {
			Link struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/files/"+fileID, nil, &envelope); err != nil {
		return "", err
	}
	return envelope.Data.Link.Href, nil
}

// decodeFormatted parses a backend display price into Money.
func decodeFormatted(raw json.RawMessage) (Money, error) {
	var price struct {
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Formatted string `json:"formatted"`
	}
	if err := json.Unmarshal(raw, &price); err != nil {
		return Money{}, fmt.Errorf("failed to decode display price: %w", err)
	}
	// Display prices are minor units.
	return Money{
		Amount:    decimal.NewFromInt(price.Amount).Div(decimal.NewFromInt(100)),
		Currency:  price.Currency,
		Formatted: price.Formatted,
	}, nil
}
