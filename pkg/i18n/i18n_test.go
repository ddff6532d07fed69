package i18n

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testTable = `| Phrase ID | EN | IT | IL |
|---|---|---|---|
| 1 | Welcome | Benvenuto | ברוכים הבאים |
| 2 | Opening | | פותח |
| 16 | attempts left: | tentativi rimasti: | ניסיונות שנותרו: |
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "translations.md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write table: %v", err)
	}
	return path
}

func TestGet(t *testing.T) {
	c := New(writeTable(t, testTable), "EN")

	tests := []struct {
		name string
		id   int
		lang string
		want string
	}{
		{name: "english", id: 1, lang: "EN", want: "Welcome"},
		{name: "italian", id: 1, lang: "IT", want: "Benvenuto"},
		{name: "lower case code", id: 1, lang: "it", want: "Benvenuto"},
		{name: "hebrew alias", id: 1, lang: "HB", want: "ברוכים הבאים"},
		{name: "empty cell falls back", id: 2, lang: "IT", want: "Opening"},
		{name: "unknown language falls back", id: 16, lang: "FR", want: "attempts left:"},
		{name: "empty language falls back", id: 1, lang: "", want: "Welcome"},
		{name: "missing id", id: 99, lang: "IT", want: "Missing translation for phrase ID 99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Get(tt.id, tt.lang); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGet_Idempotent(t *testing.T) {
	c := New(writeTable(t, testTable), "EN")

	first := c.Get(16, "IL")
	second := c.Get(16, "IL")
	if first != second {
		t.Errorf("expected identical results, got %q and %q", first, second)
	}
}

func TestGet_CachedPerLanguage(t *testing.T) {
	path := writeTable(t, testTable)
	c := New(path, "EN")

	if got := c.Get(1, "IT"); got != "Benvenuto" {
		t.Fatalf("expected Benvenuto, got %q", got)
	}

	// Later edits to the file do not affect an already loaded language.
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(testTable, "Benvenuto", "Ciao")), 0644); err != nil {
		t.Fatalf("failed to rewrite table: %v", err)
	}
	if got := c.Get(1, "IT"); got != "Benvenuto" {
		t.Errorf("expected cached Benvenuto, got %q", got)
	}
}

func TestGetf(t *testing.T) {
	c := New(writeTable(t, testTable), "EN")

	if got := c.Getf(16, "IT", 2); got != "tentativi rimasti: 2" {
		t.Errorf("unexpected formatted phrase %q", got)
	}
}

func TestBuiltinTable(t *testing.T) {
	c := New("", "EN")

	for _, lang := range []string{"EN", "IT", "RU", "IL"} {
		for id := MsgWelcome; id <= MsgStranger; id++ {
			if got := c.Get(id, lang); strings.HasPrefix(got, "Missing translation") {
				t.Errorf("%s: phrase %d missing from built-in table", lang, id)
			}
		}
	}
}

func TestUnreadablePathUsesBuiltin(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "nope.md"), "EN")

	if got := c.Get(MsgKeyEnter, "EN"); got != "Enter" {
		t.Errorf("expected built-in Enter, got %q", got)
	}
}

func TestParse_BadHeader(t *testing.T) {
	if _, err := Parse([]byte("| ID | EN |\n| 1 | x |\n")); err == nil {
		t.Error("expected error for missing Phrase ID column")
	}

	c := New(writeTable(t, "no table here"), "EN")
	if got := c.Get(1, "EN"); got != "Missing translation for phrase ID 1" {
		t.Errorf("expected missing marker for unparseable table, got %q", got)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"HB":  "IL",
		"hb":  "IL",
		" ru": "RU",
		"EN":  "EN",
	}
	for in, want := range tests {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q): expected %q, got %q", in, want, got)
		}
	}
}
