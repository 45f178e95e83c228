package storage

import (
	"context"
	"io"

	"github.com/bwise1/meetup_api/config"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/pkg/errors"
)

// Folders used for uploaded images.
const (
	FolderProfilePhotos  = "profile_photos"
	FolderActivityImages = "activity_images"
)

type Cloudinary struct {
	CLD *cloudinary.Cloudinary
}

// NewCloudinary returns nil without error when no cloud name is configured.
func NewCloudinary(cfg *config.Config) (*Cloudinary, error) {
	if cfg.CloudinaryCloudName == "" {
		return nil, nil
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, errors.Wrap(err, "init cloudinary")
	}
	return &Cloudinary{CLD: cld}, nil
}

// UploadImage stores the image read from r under folder and returns its
// public https URL.
func (c *Cloudinary) UploadImage(ctx context.Context, r io.Reader, folder string) (string, error) {
	resp, err := c.CLD.Upload.Upload(ctx, r, uploader.UploadParams{Folder: folder})
	if err != nil {
		return "", errors.Wrap(err, "upload image")
	}
	if resp.Error.Message != "" {
		return "", errors.New(resp.Error.Message)
	}
	return resp.SecureURL, nil
}
