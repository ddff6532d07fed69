// Package storage persists the face embedding cache and rebuilds it from the
// person registry when the registry changes. Cache artifacts can be encrypted
// at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// Cache artifact file names.
const (
	EmbeddingsFile = "embeddings.bin"
	IDsFile        = "ids.json"
	HashFile       = "registry.hash"
)

const descriptorBytes = len(recognition.Descriptor{}) * 4

// ErrCacheMissing is returned when one or more cache artifacts do not exist.
var ErrCacheMissing = errors.New("embedding cache missing")

// ErrCacheCorrupt is returned when the artifacts cannot be decoded or disagree.
var ErrCacheCorrupt = errors.New("embedding cache corrupt")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Cache is the persisted gallery plus the registry hash it was built from.
type Cache struct {
	Hash    string
	Gallery *recognition.Gallery
}

// CacheStore reads and writes the three cache artifacts in one directory.
type CacheStore struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewCacheStore creates the cache directory if needed.
func NewCacheStore(dir string, encryptionEnabled bool) (*CacheStore, error) {
	cs := &CacheStore{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		cs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return cs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the cached embeddings to this specific machine.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("gatekeeper-cache-v1")

	return sha256.Sum256([]byte(identity.String()))
}

func (cs *CacheStore) path(name string) string {
	if cs.encryptionEnabled && name != HashFile {
		name += ".enc"
	}
	return filepath.Join(cs.dir, name)
}

// Load reads all artifacts. Missing artifacts yield ErrCacheMissing.
func (cs *CacheStore) Load() (*Cache, error) {
	hash, err := os.ReadFile(cs.path(HashFile))
	if err != nil {
		return nil, cs.readError(err)
	}

	rawEmbeddings, err := cs.readSealed(EmbeddingsFile)
	if err != nil {
		return nil, err
	}
	rawIDs, err := cs.readSealed(IDsFile)
	if err != nil {
		return nil, err
	}

	descriptors, err := DecodeDescriptors(rawEmbeddings)
	if err != nil {
		return nil, err
	}

	var owners []int64
	if err := json.Unmarshal(rawIDs, &owners); err != nil {
		return nil, fmt.Errorf("%w: ids: %v", ErrCacheCorrupt, err)
	}

	if len(owners) != len(descriptors) {
		return nil, fmt.Errorf("%w: %d embeddings but %d ids", ErrCacheCorrupt, len(descriptors), len(owners))
	}

	return &Cache{
		Hash: strings.TrimSpace(string(hash)),
		Gallery: &recognition.Gallery{
			Descriptors: descriptors,
			Owners:      owners,
		},
	}, nil
}

// Save writes all artifacts. The hash is removed first and written last, so an
// interrupted save never pairs a valid hash with stale embeddings.
func (cs *CacheStore) Save(c *Cache) error {
	if err := os.Remove(cs.path(HashFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache hash: %w", err)
	}

	gallery := c.Gallery
	if gallery == nil {
		gallery = &recognition.Gallery{}
	}

	owners := gallery.Owners
	if owners == nil {
		owners = []int64{}
	}
	ids, err := json.Marshal(owners)
	if err != nil {
		return fmt.Errorf("failed to marshal ids: %w", err)
	}

	if err := cs.writeSealed(EmbeddingsFile, EncodeDescriptors(gallery.Descriptors)); err != nil {
		return err
	}
	if err := cs.writeSealed(IDsFile, ids); err != nil {
		return err
	}
	if err := os.WriteFile(cs.path(HashFile), []byte(c.Hash+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write cache hash: %w", err)
	}

	logging.Debugf("Saved embedding cache: %d embeddings, hash %.12s", gallery.Len(), c.Hash)
	return nil
}

// Clear removes every artifact, forcing a rebuild on the next load.
func (cs *CacheStore) Clear() error {
	for _, name := range []string{HashFile, EmbeddingsFile, IDsFile} {
		if err := os.Remove(cs.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func (cs *CacheStore) readError(err error) error {
	if os.IsNotExist(err) {
		return ErrCacheMissing
	}
	return fmt.Errorf("failed to read cache: %w", err)
}

func (cs *CacheStore) readSealed(name string) ([]byte, error) {
	data, err := os.ReadFile(cs.path(name))
	if err != nil {
		return nil, cs.readError(err)
	}
	if !cs.encryptionEnabled {
		return data, nil
	}
	plain, err := cs.decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, name, err)
	}
	return plain, nil
}

func (cs *CacheStore) writeSealed(name string, data []byte) error {
	if cs.encryptionEnabled {
		var err error
		data, err = cs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
	}
	if err := os.WriteFile(cs.path(name), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (cs *CacheStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &cs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (cs *CacheStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &cs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}

// EncodeDescriptors packs descriptors as consecutive little-endian float32 values.
func EncodeDescriptors(descriptors []recognition.Descriptor) []byte {
	buf := make([]byte, len(descriptors)*descriptorBytes)
	for i, d := range descriptors {
		for j, v := range d {
			binary.LittleEndian.PutUint32(buf[i*descriptorBytes+j*4:], math.Float32bits(v))
		}
	}
	return buf
}

// DecodeDescriptors is the inverse of EncodeDescriptors.
func DecodeDescriptors(data []byte) ([]recognition.Descriptor, error) {
	if len(data)%descriptorBytes != 0 {
		return nil, fmt.Errorf("%w: embeddings blob of %d bytes", ErrCacheCorrupt, len(data))
	}

	descriptors := make([]recognition.Descriptor, len(data)/descriptorBytes)
	for i := range descriptors {
		for j := range descriptors[i] {
			bits := binary.LittleEndian.Uint32(data[i*descriptorBytes+j*4:])
			descriptors[i][j] = math.Float32frombits(bits)
		}
	}
	return descriptors, nil
}
