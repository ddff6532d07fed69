// Package i18n looks up UI and notification texts by numeric phrase id.
//
// Phrases live in a markdown table with a "Phrase ID" column followed by one
// column per language code. Each language is parsed on first use and kept for
// the lifetime of the Catalog.
package i18n

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
)

// DefaultLanguage is used when a language column is missing.
const DefaultLanguage = "EN"

const idColumn = "Phrase ID"

//go:embed translations.md
var builtinTable []byte

// Phrase ids used by the controller.
const (
	MsgWelcome            = 1
	MsgDisplayProblem     = 2
	MsgInitRecognition    = 3
	MsgFaceDetected       = 4
	MsgHello              = 5
	MsgAlarmSwitchingOff  = 6
	MsgOpeningGate        = 7
	MsgGateError          = 8
	MsgAlarmOffBlocked    = 9
	MsgArmingDay          = 10
	MsgArmingNight        = 11
	MsgPinging            = 12
	MsgNotAuthorized      = 13
	MsgOperatorAway       = 14
	MsgEnterCode          = 15
	MsgAttemptsLeft       = 16
	MsgWrongCode          = 17
	MsgLockout            = 18
	MsgSelectOption       = 19
	MsgMenuArmDay         = 20
	MsgMenuArmNight       = 21
	MsgMenuDisarm         = 22
	MsgMenuCancel         = 23
	MsgAlarmOff           = 24
	MsgErrorOccurred      = 25
	MsgAlarmOffFailed     = 26
	MsgAlarmSet           = 27
	MsgAlarmSetFailed     = 28
	MsgAlarmSetError      = 29
	MsgAlarmAppearsSet    = 30
	MsgKeyDelete          = 31
	MsgKeyEnter           = 32
	MsgKeyCancel          = 33
	MsgKeyPing            = 34
	MsgAtGate             = 35
	MsgStrangerAtGate     = 36
	MsgStrangerPing       = 37
	MsgPersonPing         = 38
	MsgUnregisteredAtGate = 39
	MsgUnregisteredPing   = 40
	MsgNoInternet         = 41
	MsgOpenGateButton     = 42
	MsgYes                = 43
	MsgNo                 = 44
	MsgStranger           = 45
)

// Catalog resolves phrase ids for any language. It is safe for concurrent use.
type Catalog struct {
	path     string
	fallback string

	mu    sync.Mutex
	cache map[string]map[int]string
}

// New creates a catalog reading the table at path. An empty path uses the
// built-in table. fallback is the language used for unknown codes.
func New(path, fallback string) *Catalog {
	if fallback == "" {
		fallback = DefaultLanguage
	}
	return &Catalog{
		path:     path,
		fallback: NormalizeLanguage(fallback),
		cache:    make(map[string]map[int]string),
	}
}

// NormalizeLanguage upper-cases a code and maps HB to the IL column.
func NormalizeLanguage(lang string) string {
	lang = strings.ToUpper(strings.TrimSpace(lang))
	if lang == "HB" {
		return "IL"
	}
	return lang
}

// Get returns the phrase for id in lang. Unknown languages use the fallback
// language, ids missing from a language use the fallback text, and ids absent
// everywhere return a "Missing translation" marker.
func (c *Catalog) Get(id int, lang string) string {
	lang = NormalizeLanguage(lang)
	if lang == "" {
		lang = c.fallback
	}

	if text, ok := c.language(lang)[id]; ok {
		return text
	}
	if lang != c.fallback {
		if text, ok := c.language(c.fallback)[id]; ok {
			return text
		}
	}
	return fmt.Sprintf("Missing translation for phrase ID %d", id)
}

// Getf appends space-separated arguments to a phrase, e.g. "attempts left: 2".
func (c *Catalog) Getf(id int, lang string, args ...interface{}) string {
	parts := []string{c.Get(id, lang)}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, " ")
}

func (c *Catalog) language(lang string) map[int]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if table, ok := c.cache[lang]; ok {
		return table
	}

	table := c.load(lang)
	c.cache[lang] = table
	return table
}

func (c *Catalog) load(lang string) map[int]string {
	log := logging.Component("i18n")

	data := builtinTable
	if c.path != "" {
		raw, err := os.ReadFile(c.path)
		if err != nil {
			log.WithError(err).Warnf("Cannot read translations %s, using built-in table", c.path)
		} else {
			data = raw
		}
	}

	tables, err := Parse(data)
	if err != nil {
		log.WithError(err).Error("Cannot parse translations")
		return map[int]string{}
	}

	if table, ok := tables[lang]; ok {
		return table
	}

	log.WithField("language", lang).Warnf("Language not in translations, using %s", c.fallback)
	if table, ok := tables[c.fallback]; ok {
		return table
	}
	return map[int]string{}
}

// Parse reads a markdown table and returns phrases keyed by language code then
// id. Rows with a non-numeric id are ignored. Empty cells are left out so the
// lookup falls back for them.
func Parse(data []byte) (map[string]map[int]string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	var headers []string
	for scanner.Scan() {
		cells := splitRow(scanner.Text())
		if len(cells) == 0 {
			continue
		}
		headers = cells
		break
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(headers) < 2 || headers[0] != idColumn {
		return nil, fmt.Errorf("translation table must start with a %q column", idColumn)
	}

	tables := make(map[string]map[int]string, len(headers)-1)
	for _, h := range headers[1:] {
		tables[NormalizeLanguage(h)] = make(map[int]string)
	}

	for scanner.Scan() {
		cells := splitRow(scanner.Text())
		if len(cells) == 0 {
			continue
		}
		id, err := strconv.Atoi(cells[0])
		if err != nil {
			// Separator line or a comment row.
			continue
		}
		for i := 1; i < len(cells) && i < len(headers); i++ {
			if cells[i] == "" {
				continue
			}
			tables[NormalizeLanguage(headers[i])][id] = cells[i]
		}
	}
	return tables, scanner.Err()
}

func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "|") {
		return nil
	}
	line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")

	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}
