package api

import (
	"math"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/images"
	"github.com/theory-cloud/storefront/pkg/model"
)

// imageField is the multipart form field holding an uploaded image
const imageField = "file"

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Catalog.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.Catalog.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.Catalog.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) shippingRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Rates.Table(r.Context()))
}

func (s *Server) updateShippingRates(w http.ResponseWriter, r *http.Request) {
	var table model.ShippingRateTable
	if err := s.decodeJSON(r, &table); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Rates.Update(r.Context(), table); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Rates.Table(r.Context()))
}

// putProduct creates or replaces a product. Images and the creation time of an existing
// product are kept when the body omits them.
func (s *Server) putProduct(w http.ResponseWriter, r *http.Request) {
	var product model.Product
	if err := s.decodeJSON(r, &product); err != nil {
		s.writeError(w, r, err)
		return
	}
	product.ID = mux.Vars(r)["id"]
	if err := validateProduct(&product); err != nil {
		s.writeError(w, r, err)
		return
	}

	existing, err := s.Catalog.GetProduct(r.Context(), product.ID)
	switch {
	case err == nil:
		product.CreatedAt = existing.CreatedAt
		if product.Images == nil {
			product.Images = existing.Images
		}
	case !serrors.IsNotFound(err):
		s.writeError(w, r, err)
		return
	}

	if err := s.Catalog.PutProduct(r.Context(), &product); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &product)
}

func validateProduct(p *model.Product) error {
	p.Name.EN = strings.TrimSpace(p.Name.EN)
	p.Name.AR = strings.TrimSpace(p.Name.AR)
	p.CategoryID = strings.TrimSpace(p.CategoryID)
	switch {
	case p.Name.EN == "":
		return serrors.NewValidationError("catalog.invalid_product", "name")
	case p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0):
		return serrors.NewValidationError("catalog.invalid_product", "price")
	case p.DiscountPercent < 0 || p.DiscountPercent > 100:
		return serrors.NewValidationError("catalog.invalid_product", "discountPercent")
	case p.Stock < 0:
		return serrors.NewValidationError("catalog.invalid_product", "stock")
	}
	for _, c := range p.Colors {
		if c.ID == "" {
			return serrors.NewValidationError("catalog.invalid_product", "colors")
		}
	}
	return nil
}

// uploadProductImage stores a multipart image and appends its URL to the product
func (s *Server) uploadProductImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Catalog.GetProduct(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(s.Protector.Limits().MaxUploadSize); err != nil {
		s.writeError(w, r, serrors.NewValidationError("catalog.invalid_image", imageField))
		return
	}
	file, header, err := r.FormFile(imageField)
	if err != nil {
		s.writeError(w, r, serrors.NewValidationError("catalog.invalid_image", imageField))
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	if !images.IsImage(contentType) {
		s.writeError(w, r, serrors.NewValidationError("catalog.invalid_image", imageField))
		return
	}

	url, err := s.Images.Upload(r.Context(), "products/"+id, header.Filename, contentType, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Catalog.AddProductImage(r.Context(), id, url); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (s *Server) putCategory(w http.ResponseWriter, r *http.Request) {
	var category model.Category
	if err := s.decodeJSON(r, &category); err != nil {
		s.writeError(w, r, err)
		return
	}
	category.ID = mux.Vars(r)["id"]
	category.Name.EN = strings.TrimSpace(category.Name.EN)
	if category.Name.EN == "" {
		s.writeError(w, r, serrors.NewValidationError("catalog.invalid_category", "name"))
		return
	}
	if err := s.Catalog.PutCategory(r.Context(), &category); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &category)
}
