package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/types"
)

// ProductHandler provides HTTP handlers for the caller's products.
type ProductHandler struct {
	products *services.ProductService
}

func NewProductHandler(products *services.ProductService) *ProductHandler {
	return &ProductHandler{products: products}
}

// ProductRouter registers product and product image routes. All of them
// need an authenticated user.
func ProductRouter(r chi.Router, products *services.ProductService, images *services.ImageService, auth Authorizer) {
	handler := NewProductHandler(products)
	imageHandler := NewImageHandler(images)

	r.Use(RequireRole(auth, types.RoleUser))
	r.Get("/", handler.ListProducts)
	r.Post("/", handler.CreateProduct)
	r.Get("/search", handler.SearchProducts)
	r.Route("/{productID}", func(r chi.Router) {
		r.Get("/", handler.GetProduct)
		r.Put("/", handler.UpdateProduct)
		r.Delete("/", handler.DeleteProduct)

		r.Post("/images", imageHandler.UploadImage)
		r.Get("/images/{imageID}", imageHandler.GetImage)
		r.Delete("/images/{imageID}", imageHandler.DeleteImage)
	})
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	items, err := h.products.List(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := h.products.Get(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.products.Create(r.Context(), user, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.products.Update(r.Context(), user, id, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// DeleteProduct soft-deletes a product and returns it.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := parseID(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := h.products.Delete(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// SearchProducts ranks the caller's products against ?term=, keeping those
// scoring at least ?minLikeness=.
func (h *ProductHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	minLikeness := services.DefaultMinLikeness
	if raw := strings.TrimSpace(r.URL.Query().Get("minLikeness")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 || value > 100 {
			writeError(w, http.StatusBadRequest, "invalid minLikeness")
			return
		}
		minLikeness = value
	}

	results, err := h.products.Search(r.Context(), user, r.URL.Query().Get("term"), minLikeness)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type ProductRequest struct {
	Name            string `json:"name"`
	Amount          int    `json:"amount"`
	AmountThreshold int    `json:"amount_threshold"`
}

func (req ProductRequest) input() services.ProductInput {
	return services.ProductInput{
		Name:            req.Name,
		Amount:          req.Amount,
		AmountThreshold: req.AmountThreshold,
	}
}
