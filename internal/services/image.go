package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/internal/storage"
	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
	"go.uber.org/zap"
)

// MaxImageBytes caps the size of an uploaded image before decoding.
const MaxImageBytes = 10 << 20

// ImageService stores product images. Uploads are normalized before they
// reach object storage; rows in the database point at the stored objects.
type ImageService struct {
	products *ProductService
	images   Repository[*types.ProductImage]
	storage  *storage.Storage
}

func NewImageService(products *ProductService, images Repository[*types.ProductImage], st *storage.Storage) *ImageService {
	return &ImageService{products: products, images: images, storage: st}
}

// Upload attaches an image to one of owner's products.
func (s *ImageService) Upload(ctx context.Context, owner *types.User, productID int, data []byte) (*types.ProductImage, error) {
	verr := &ValidationError{}
	switch {
	case len(data) == 0:
		verr.Add("file", "is required")
	case len(data) > MaxImageBytes:
		verr.Add("file", "must be at most 10 MiB")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	product, err := s.products.Get(ctx, owner, productID)
	if err != nil {
		return nil, err
	}

	img, err := normalizeImage(data)
	if err != nil {
		verr.Add("file", "must be a png, jpeg or gif image")
		return nil, verr
	}

	row := &types.ProductImage{
		ProductID:   product.ID,
		Name:        uuid.NewString() + img.ext,
		Path:        s.storage.Key("images", strconv.Itoa(product.ID)),
		ContentType: img.contentType,
	}
	if err := s.storage.Put(ctx, row.FullPath(), bytes.NewReader(img.data), int64(len(img.data)), img.contentType); err != nil {
		return nil, wrap("store image", err)
	}

	saved, err := s.images.Save(ctx, row)
	if err != nil {
		if delErr := s.storage.Delete(ctx, row.FullPath()); delErr != nil {
			logx.FromContext(ctx).Warn("remove orphaned image", zap.String("key", row.FullPath()), zap.Error(delErr))
		}
		return nil, wrap("save image", err)
	}
	logx.FromContext(ctx).Info("image uploaded",
		zap.Int("product_id", product.ID),
		zap.String("key", saved.FullPath()),
		zap.Int("bytes", len(img.data)),
	)
	return saved, nil
}

// Open returns an image row together with a reader for its content.
// The caller closes the reader.
func (s *ImageService) Open(ctx context.Context, owner *types.User, productID, imageID int) (*types.ProductImage, io.ReadCloser, error) {
	img, err := s.find(ctx, owner, productID, imageID)
	if err != nil {
		return nil, nil, err
	}
	r, err := s.storage.Get(ctx, img.FullPath())
	if err != nil {
		return nil, nil, wrap("open image", err)
	}
	return img, r, nil
}

// Delete removes an image object and its row. A missing object does not stop
// the row from being removed.
func (s *ImageService) Delete(ctx context.Context, owner *types.User, productID, imageID int) error {
	img, err := s.find(ctx, owner, productID, imageID)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, img.FullPath()); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return wrap("delete image object", err)
	}
	if _, err := s.images.Delete(ctx, img, store.HardDelete); err != nil {
		return wrap("delete image", err)
	}
	return nil
}

func (s *ImageService) find(ctx context.Context, owner *types.User, productID, imageID int) (*types.ProductImage, error) {
	if _, err := s.products.Get(ctx, owner, productID); err != nil {
		return nil, err
	}
	img, err := s.images.Get(ctx, store.Where(
		store.Eq(store.ColumnID, imageID),
		store.Eq(store.ColumnProductID, productID),
	))
	if err != nil {
		return nil, wrap("get image", err)
	}
	return img, nil
}
