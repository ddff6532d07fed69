package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
	"github.com/disintegration/imaging"
)

// PhotoSource is the registry view the store builds from. DataVersion is a
// cheap counter that moves whenever another writer commits; ContentHash is
// only recomputed when it does.
type PhotoSource interface {
	DataVersion(ctx context.Context) (int64, error)
	ContentHash(ctx context.Context) (string, error)
	EachPhoto(ctx context.Context, fn func(registry.Photo) error) error
}

// Embedder describes the only face in a JPEG photo.
type Embedder interface {
	Describe(jpeg []byte) (recognition.Descriptor, error)
}

// EmbeddingStore serves the gallery, rebuilding the cache when the registry hash changes.
type EmbeddingStore struct {
	source   PhotoSource
	embedder Embedder
	cache    *CacheStore

	mu      sync.Mutex
	version int64
	hash    string
	gallery *recognition.Gallery
}

// NewEmbeddingStore creates a store over a registry, an embedder and a cache directory.
func NewEmbeddingStore(source PhotoSource, embedder Embedder, cache *CacheStore) *EmbeddingStore {
	return &EmbeddingStore{
		source:   source,
		embedder: embedder,
		cache:    cache,
	}
}

// Embeddings returns the gallery for the current registry content.
// A missing, corrupt or stale cache triggers a synchronous rebuild.
func (s *EmbeddingStore) Embeddings(ctx context.Context) (*recognition.Gallery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.source.DataVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry version: %w", err)
	}
	if s.gallery != nil && s.version == version {
		return s.gallery, nil
	}

	hash, err := s.source.ContentHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("hash registry: %w", err)
	}
	if s.gallery != nil && s.hash == hash {
		s.version = version
		return s.gallery, nil
	}

	log := logging.Component("embeddings")

	cached, err := s.cache.Load()
	switch {
	case err == nil && cached.Hash == hash:
		log.WithField("embeddings", cached.Gallery.Len()).Info("Loaded embedding cache")
		s.version, s.hash, s.gallery = version, hash, cached.Gallery
		return s.gallery, nil
	case err == nil:
		log.Info("Registry changed, rebuilding embedding cache")
	case errors.Is(err, ErrCacheMissing):
		log.Info("No embedding cache, building")
	default:
		log.WithError(err).Warn("Unreadable embedding cache, rebuilding")
	}

	gallery, err := s.build(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Save(&Cache{Hash: hash, Gallery: gallery}); err != nil {
		return nil, err
	}

	s.version, s.hash, s.gallery = version, hash, gallery
	return gallery, nil
}

// build computes one embedding per usable photo, in registry order.
func (s *EmbeddingStore) build(ctx context.Context) (*recognition.Gallery, error) {
	log := logging.Component("embeddings")
	gallery := &recognition.Gallery{}
	skipped := 0

	err := s.source.EachPhoto(ctx, func(p registry.Photo) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry := log.WithFields(logging.Fields{"photo": p.ID, "person": p.PersonID})

		jpeg, err := normalizePhoto(p.PhotoData)
		if err != nil {
			entry.WithError(err).Warn("Skipping undecodable photo")
			skipped++
			return nil
		}

		d, err := s.embedder.Describe(jpeg)
		switch {
		case errors.Is(err, recognition.ErrNoFaceDetected), errors.Is(err, recognition.ErrMultipleFaces):
			entry.WithError(err).Warn("Skipping photo")
			skipped++
			return nil
		case err != nil:
			return fmt.Errorf("describe photo %d: %w", p.ID, err)
		}

		gallery.Descriptors = append(gallery.Descriptors, d)
		gallery.Owners = append(gallery.Owners, p.PersonID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logging.Fields{
		"embeddings": gallery.Len(),
		"skipped":    skipped,
	}).Info("Embedding cache built")
	return gallery, nil
}

// normalizePhoto decodes a stored JPEG or PNG, applies EXIF orientation and
// re-encodes it as JPEG, the only format the face engine reads.
func normalizePhoto(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
