package handlers

import (
	"io"
	"net/http"

	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/internal/services"
	"go.uber.org/zap"
)

const (
	formFieldFile      = "file"
	maxMultipartMemory = 32 << 20

	// The extra MiB leaves room for the multipart envelope.
	maxUploadBytes = services.MaxImageBytes + 1<<20
)

// ImageHandler provides HTTP handlers for product images.
type ImageHandler struct {
	images *services.ImageService
}

func NewImageHandler(images *services.ImageService) *ImageHandler {
	return &ImageHandler{images: images}
}

// UploadImage accepts a multipart upload in the "file" field.
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	productID, err := parseID(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeFileError(w, r, "must be a multipart upload of at most 10 MiB")
		return
	}
	file, _, err := r.FormFile(formFieldFile)
	if err != nil {
		writeFileError(w, r, "is required")
		return
	}
	defer file.Close()

	data, err := readFileLimited(file, services.MaxImageBytes)
	if err != nil {
		writeFileError(w, r, err.Error())
		return
	}

	img, err := h.images.Upload(r.Context(), user, productID, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

// GetImage streams the stored image.
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	productID, imageID, err := parseImageIDs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	img, body, err := h.images.Open(r.Context(), user, productID, imageID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logx.FromContext(r.Context()).Warn("stream image", zap.Int("image_id", img.ID), zap.Error(err))
	}
}

func (h *ImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	productID, imageID, err := parseImageIDs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.images.Delete(r.Context(), user, productID, imageID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseImageIDs(r *http.Request) (productID, imageID int, err error) {
	productID, err = parseID(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	imageID, err = parseID(r, "imageID")
	if err != nil {
		return 0, 0, err
	}
	return productID, imageID, nil
}

func writeFileError(w http.ResponseWriter, r *http.Request, message string) {
	verr := &services.ValidationError{}
	verr.Add(formFieldFile, message)
	writeServiceError(w, r, verr)
}
