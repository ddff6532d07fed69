// Package registry reads the person registry: identities, PIN hashes, preferred
// languages and enrolled photos. The registry is maintained by external tooling;
// this package never writes to it.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/MrCodeEU/gatekeeper/pkg/database"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

// StrangerName is the registry name of the row holding the stranger PIN and language.
const StrangerName = "Stranger"

// defaultStrangerPIN applies when the registry has no stranger row.
const defaultStrangerPIN = "1965"

// ErrPersonNotFound is returned when an id has no registry row.
var ErrPersonNotFound = errors.New("person not found")

// Person is one registry identity.
type Person struct {
	ID             int64  `gorm:"primaryKey"`
	PersonUniqueID string `gorm:"column:person_unique_id"`
	Name           string
	Surname        string
	Language       string
	PasswordHash   string
}

// TableName keeps the table name used by the registry tooling.
func (Person) TableName() string { return "persons" }

// Photo is one enrolled photo of a person.
type Photo struct {
	ID        int64 `gorm:"primaryKey"`
	PersonID  int64
	PhotoData []byte
	PhotoType string
}

// TableName keeps the table name used by the registry tooling.
func (Photo) TableName() string { return "photos" }

// Registry is a read-only view of the person registry.
type Registry struct {
	db              *gorm.DB
	defaultLanguage string
}

// New wraps an open database.
func New(db *gorm.DB, defaultLanguage string) *Registry {
	return &Registry{db: db, defaultLanguage: defaultLanguage}
}

// Open opens the registry database as it is. The schema belongs to the
// registry tooling and is never migrated here.
func Open(path, defaultLanguage string) (*Registry, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return New(db, defaultLanguage), nil
}

// Close closes the registry database.
func (r *Registry) Close() error {
	return database.Close(r.db)
}

// Lookup returns the person with the given id. An empty language is replaced
// by the default language.
func (r *Registry) Lookup(ctx context.Context, id int64) (*Person, error) {
	var p Person
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrPersonNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup person %d: %w", id, err)
	}
	if p.Language == "" {
		p.Language = r.defaultLanguage
	}
	return &p, nil
}

// StrangerDefaults returns the PIN hash and language used for unrecognized visitors.
func (r *Registry) StrangerDefaults(ctx context.Context) (passwordHash, language string, err error) {
	var p Person
	err = r.db.WithContext(ctx).Where("name = ?", StrangerName).Order("id").First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sum := sha256.Sum256([]byte(defaultStrangerPIN))
		return hex.EncodeToString(sum[:]), r.defaultLanguage, nil
	case err != nil:
		return "", "", fmt.Errorf("lookup stranger defaults: %w", err)
	}

	language = p.Language
	if language == "" {
		language = r.defaultLanguage
	}
	return p.PasswordHash, language, nil
}

// DataVersion returns SQLite's data_version for the registry connection. It
// changes whenever another connection commits to the file.
func (r *Registry) DataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := r.db.WithContext(ctx).Raw("PRAGMA data_version").Scan(&v).Error; err != nil {
		return 0, fmt.Errorf("read data version: %w", err)
	}
	return v, nil
}

// EachPhoto calls fn for every photo, ordered by person id and then photo id.
// Iteration stops at the first error returned by fn.
func (r *Registry) EachPhoto(ctx context.Context, fn func(Photo) error) error {
	db := r.db.WithContext(ctx)
	rows, err := db.Model(&Photo{}).Order("person_id, id").Rows()
	if err != nil {
		return fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Photo
		if err := db.ScanRows(rows, &p); err != nil {
			return fmt.Errorf("scan photo: %w", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ContentHash returns a BLAKE2b-256 digest over every person and photo row.
// Any edit to the registry changes the hash.
func (r *Registry) ContentHash(ctx context.Context) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	var people []Person
	if err := r.db.WithContext(ctx).Order("id").Find(&people).Error; err != nil {
		return "", fmt.Errorf("list persons: %w", err)
	}
	for _, p := range people {
		writeInt(h, p.ID)
		writeString(h, strings.Join([]string{p.PersonUniqueID, p.Name, p.Surname, p.Language, p.PasswordHash}, "\x00"))
	}

	err = r.EachPhoto(ctx, func(p Photo) error {
		writeInt(h, p.ID)
		writeInt(h, p.PersonID)
		writeString(h, p.PhotoType)
		writeBytes(h, p.PhotoData)
		return nil
	})
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeInt(h hash.Hash, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func writeString(h hash.Hash, s string) {
	writeBytes(h, []byte(s))
}

// writeBytes length-prefixes b so adjacent fields cannot run together.
func writeBytes(h hash.Hash, b []byte) {
	writeInt(h, int64(len(b)))
	h.Write(b)
}
