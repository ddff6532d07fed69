package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MrCodeEU/gatekeeper/pkg/database"
)

// createSchema lays out the registry tables the way the enrolment tooling does.
func createSchema(t *testing.T, path string) {
	t.Helper()
	db, err := database.Open(path, &Person{}, &Photo{})
	if err != nil {
		t.Fatalf("failed to create registry schema: %v", err)
	}
	_ = database.Close(db)
}

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "people.db")
	createSchema(t, path)
	r, err := Open(path, "EN")
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func sha(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

func seed(t *testing.T, r *Registry, people []Person, photos []Photo) {
	t.Helper()
	for i := range people {
		if err := r.db.Create(&people[i]).Error; err != nil {
			t.Fatalf("failed to create person: %v", err)
		}
	}
	for i := range photos {
		if err := r.db.Create(&photos[i]).Error; err != nil {
			t.Fatalf("failed to create photo: %v", err)
		}
	}
}

func TestLookup(t *testing.T) {
	r := openTestRegistry(t)
	seed(t, r, []Person{
		{ID: 1, Name: "Lev", Surname: "Gordon", Language: "IT", PasswordHash: sha("1234")},
		{ID: 2, Name: "Anna", Surname: "Rossi"},
	}, nil)

	ctx := context.Background()

	p, err := r.Lookup(ctx, 1)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.Name != "Lev" || p.Language != "IT" || p.PasswordHash != sha("1234") {
		t.Errorf("unexpected person %+v", p)
	}

	p, err = r.Lookup(ctx, 2)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if p.Language != "EN" {
		t.Errorf("expected empty language to default to EN, got %q", p.Language)
	}

	if _, err := r.Lookup(ctx, 99); !errors.Is(err, ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestStrangerDefaults(t *testing.T) {
	ctx := context.Background()

	t.Run("no stranger row", func(t *testing.T) {
		r := openTestRegistry(t)
		hash, lang, err := r.StrangerDefaults(ctx)
		if err != nil {
			t.Fatalf("StrangerDefaults failed: %v", err)
		}
		if hash != sha("1965") {
			t.Errorf("expected default stranger hash, got %s", hash)
		}
		if lang != "EN" {
			t.Errorf("expected default language, got %s", lang)
		}
	})

	t.Run("stranger row", func(t *testing.T) {
		r := openTestRegistry(t)
		seed(t, r, []Person{
			{ID: 5, Name: StrangerName, Language: "RU", PasswordHash: sha("0000")},
		}, nil)

		hash, lang, err := r.StrangerDefaults(ctx)
		if err != nil {
			t.Fatalf("StrangerDefaults failed: %v", err)
		}
		if hash != sha("0000") || lang != "RU" {
			t.Errorf("expected stranger row values, got %s/%s", hash, lang)
		}
	})
}

func TestEachPhoto_Order(t *testing.T) {
	r := openTestRegistry(t)
	seed(t, r, []Person{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}, []Photo{
		{ID: 10, PersonID: 2, PhotoData: []byte("b1"), PhotoType: "jpeg"},
		{ID: 11, PersonID: 1, PhotoData: []byte("a2"), PhotoType: "png"},
		{ID: 9, PersonID: 1, PhotoData: []byte("a1"), PhotoType: "jpeg"},
	})

	var got []int64
	err := r.EachPhoto(context.Background(), func(p Photo) error {
		got = append(got, p.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("EachPhoto failed: %v", err)
	}

	want := []int64{9, 11, 10}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEachPhoto_StopsOnError(t *testing.T) {
	r := openTestRegistry(t)
	seed(t, r, []Person{{ID: 1}}, []Photo{{ID: 1, PersonID: 1}, {ID: 2, PersonID: 1}})

	stop := errors.New("stop")
	calls := 0
	err := r.EachPhoto(context.Background(), func(p Photo) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("expected stop error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestContentHash(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()
	seed(t, r, []Person{{ID: 1, Name: "Lev"}}, []Photo{{ID: 1, PersonID: 1, PhotoData: []byte{1, 2, 3}}})

	first, err := r.ContentHash(ctx)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	second, err := r.ContentHash(ctx)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if first != second {
		t.Error("expected hash to be stable for an unchanged registry")
	}
	if len(first) != 64 {
		t.Errorf("expected 32-byte hex digest, got %d chars", len(first))
	}

	if err := r.db.Model(&Photo{}).Where("id = ?", 1).Update("photo_data", []byte{1, 2, 4}).Error; err != nil {
		t.Fatalf("update failed: %v", err)
	}
	changed, err := r.ContentHash(ctx)
	if err != nil {
		t.Fatalf("ContentHash failed: %v", err)
	}
	if changed == first {
		t.Error("expected hash to change after a photo edit")
	}
}

func TestOpen_LeavesSchemaAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	r, err := Open(path, "EN")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = r.Close() }()

	if r.db.Migrator().HasTable(&Person{}) || r.db.Migrator().HasTable(&Photo{}) {
		t.Error("expected Open not to create registry tables")
	}
}

func TestDataVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.db")
	createSchema(t, path)
	r, err := Open(path, "EN")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = r.Close() }()
	ctx := context.Background()

	before, err := r.DataVersion(ctx)
	if err != nil {
		t.Fatalf("DataVersion failed: %v", err)
	}
	again, _ := r.DataVersion(ctx)
	if again != before {
		t.Errorf("expected a stable version without writes, got %d then %d", before, again)
	}

	tooling, err := database.Open(path)
	if err != nil {
		t.Fatalf("failed to open second connection: %v", err)
	}
	if err := tooling.Create(&Person{ID: 1, Name: "Lev"}).Error; err != nil {
		t.Fatalf("failed to enrol: %v", err)
	}
	_ = database.Close(tooling)

	after, err := r.DataVersion(ctx)
	if err != nil {
		t.Fatalf("DataVersion failed: %v", err)
	}
	if after == before {
		t.Error("expected the version to move after another connection committed")
	}
}
