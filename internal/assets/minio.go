// Package assets uploads product images to an S3-compatible bucket.
package assets

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	storefront "github.com/AnandSundar/go-storefront"
)

var _ storefront.ImageUploader = (*MinioUploader)(nil)

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicBaseURL prefixes returned object URLs; defaults to the endpoint
	PublicBaseURL string
}

// MinioUploader stores images under a content-addressed key and returns their
// public URL
type MinioUploader struct {
	cl      *minio.Client
	bucket  string
	baseURL string
}

func New(cfg Config) (*MinioUploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("assets: endpoint and bucket are required")
	}

	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}
	return &MinioUploader{cl: cl, bucket: cfg.Bucket, baseURL: strings.TrimRight(base, "/")}, nil
}

// Upload streams r into a temporary object, then moves it to
// images/<sha256><ext> so identical images share one object.
func (u *MinioUploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	h := sha256.New()
	pr, pw := io.Pipe()

	go func() {
		_, err := io.Copy(io.MultiWriter(h, pw), r)
		pw.CloseWithError(err)
	}()

	ext := strings.ToLower(path.Ext(filename))
	tmpKey := "tmp/" + sanitize(filename)
	_, err := u.cl.PutObject(ctx, u.bucket, tmpKey, pr, -1, minio.PutObjectOptions{
		ContentType: contentType(ext),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", tmpKey, err)
	}

	key := objectKey(h.Sum(nil), ext)
	src := minio.CopySrcOptions{Bucket: u.bucket, Object: tmpKey}
	dst := minio.CopyDestOptions{Bucket: u.bucket, Object: key}
	if _, err := u.cl.CopyObject(ctx, dst, src); err != nil {
		_ = u.cl.RemoveObject(ctx, u.bucket, tmpKey, minio.RemoveObjectOptions{})
		return "", fmt.Errorf("copy %s: %w", key, err)
	}
	_ = u.cl.RemoveObject(ctx, u.bucket, tmpKey, minio.RemoveObjectOptions{})

	return u.URL(key), nil
}

// URL is the public address of the object stored under key
func (u *MinioUploader) URL(key string) string {
	return u.baseURL + "/" + key
}

func objectKey(sum []byte, ext string) string {
	return fmt.Sprintf("images/%x%s", sum, ext)
}

func contentType(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sanitize(name string) string {
	return strings.ReplaceAll(url.PathEscape(name), "%2F", "_")
}
