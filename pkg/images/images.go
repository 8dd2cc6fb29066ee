// Package images stores product images and returns their durable public URLs.
package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/interfaces"
)

// Uploader stores a blob and returns a URL that keeps working after the request ends
type Uploader interface {
	Upload(ctx context.Context, folder, filename, contentType string, body io.Reader) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds "folder/uuid-filename" with the filename reduced to safe characters
func ObjectKey(folder, filename, id string) string {
	name := unsafeChars.ReplaceAllString(path.Base(strings.TrimSpace(filename)), "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "image"
	}
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return id + "-" + name
	}
	return folder + "/" + id + "-" + name
}

// IsImage reports whether contentType is an image type
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// S3Config locates the bucket
type S3Config struct {
	Bucket string
	Region string
	// PublicBaseURL replaces the default virtual-hosted bucket URL, e.g. a CDN origin
	PublicBaseURL string
}

// S3Uploader writes objects to S3
type S3Uploader struct {
	client interfaces.S3API
	newID  func() string
	config S3Config
}

// NewS3Uploader creates an S3Uploader
func NewS3Uploader(client interfaces.S3API, config S3Config) *S3Uploader {
	return &S3Uploader{client: client, config: config, newID: uuid.NewString}
}

// URL returns the public URL of key
func (u *S3Uploader) URL(key string) string {
	if u.config.PublicBaseURL != "" {
		return strings.TrimRight(u.config.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.config.Bucket, u.config.Region, key)
}

// Upload puts body under folder/uuid-filename
func (u *S3Uploader) Upload(ctx context.Context, folder, filename, contentType string, body io.Reader) (string, error) {
	key := ObjectKey(folder, filename, u.newID())
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.config.Bucket),
		Key:          aws.String(key),
		Body:         body,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", serrors.NewPersistenceError("PutObject", u.config.Bucket, err)
	}
	return u.URL(key), nil
}

// Memory keeps uploads in process and serves them over HTTP. Used in local mode.
type Memory struct {
	objects map[string]memoryObject
	newID   func() string
	baseURL string
	mu      sync.RWMutex
}

type memoryObject struct {
	contentType string
	data        []byte
}

// NewMemory creates a Memory uploader whose URLs start with baseURL
func NewMemory(baseURL string) *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
		newID:   uuid.NewString,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload reads body into memory
func (m *Memory) Upload(_ context.Context, folder, filename, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	key := ObjectKey(folder, filename, m.newID())
	m.mu.Lock()
	m.objects[key] = memoryObject{contentType: contentType, data: data}
	m.mu.Unlock()
	return m.baseURL + "/" + key, nil
}

// ServePath is the route prefix Memory serves objects under
const ServePath = "/uploads/"

// ServeHTTP serves an uploaded object at ServePath+key
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, ServePath)
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", obj.contentType)
	http.ServeContent(w, r, path.Base(key), time.Time{}, bytes.NewReader(obj.data))
}
