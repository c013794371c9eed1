// Package archive stores captured page bodies in a blob store under content-addressed paths.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

const defaultContentType = "text/html; charset=utf-8"

// Config controls object naming.
type Config struct {
	Prefix      string
	ContentType string
}

// Archiver hashes page bodies and writes them to a BlobStore.
type Archiver struct {
	store crawler.BlobStore
	cfg   Config
}

// New constructs an Archiver.
func New(store crawler.BlobStore, cfg Config) *Archiver {
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Archiver{store: store, cfg: cfg}
}

// Digest returns the hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Path returns the object path for a body of the given digest within a job.
func (a *Archiver) Path(jobID, digest string) string {
	if a.cfg.Prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.html", a.cfg.Prefix, jobID, digest)
}

// Archive writes body and returns its digest and URI.
func (a *Archiver) Archive(ctx context.Context, jobID string, body string) (string, string, error) {
	data := []byte(body)
	digest := Digest(data)
	uri, err := a.store.PutObject(ctx, a.Path(jobID, digest), a.cfg.ContentType, data)
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}
	return digest, uri, nil
}
