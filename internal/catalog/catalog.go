package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Catalog holds every country in dataset order. It is loaded once at startup
// and read-only afterwards, so lookups need no locking.
type Catalog struct {
	countries []*Country
	byID      map[string]*Country
	log       *slog.Logger
}

// Load reads the serialized catalog at path. The format is picked by
// extension: a JSON array, or a SQLite database (.db / .sqlite).
func Load(path string, log *slog.Logger) (*Catalog, error) {
	var (
		records []*Country
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		records, err = loadSQLite(path)
	default:
		records, err = loadJSON(path)
	}
	if err != nil {
		return nil, err
	}
	return New(records, log)
}

// Empty returns a catalog with no countries. The runtime falls back to it
// when the dataset cannot be loaded, degrading to a pin-less globe where
// every spoken phrase misses.
func Empty(log *slog.Logger) *Catalog {
	return &Catalog{byID: map[string]*Country{}, log: log}
}

// New builds a catalog from records, validating identity invariants.
func New(records []*Country, log *slog.Logger) (*Catalog, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("load catalog: no records")
	}
	byID := make(map[string]*Country, len(records))
	names := make(map[string]string, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("load catalog: record %d has empty id", i)
		}
		if rec.ID != strings.ToLower(rec.ID) {
			return nil, fmt.Errorf("load catalog: id %q must be lowercase", rec.ID)
		}
		if rec.DisplayName == "" {
			return nil, fmt.Errorf("load catalog: record %q has empty nombre", rec.ID)
		}
		if _, dup := byID[rec.ID]; dup {
			return nil, fmt.Errorf("load catalog: duplicate id %q", rec.ID)
		}
		lower := strings.ToLower(rec.DisplayName)
		if prev, dup := names[lower]; dup {
			return nil, fmt.Errorf("load catalog: records %q and %q share display name %q", prev, rec.ID, rec.DisplayName)
		}
		byID[rec.ID] = rec
		names[lower] = rec.ID
	}

	log.Info("catalog loaded", slog.Int("countries", len(records)))
	return &Catalog{countries: records, byID: byID, log: log}, nil
}

// rawCountry mirrors Country with pointers on the required fields, so a
// record that omits one fails the load instead of decoding to zero values
// that would narrate as empty speech.
type rawCountry struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"nombre"`
	Synonyms    *[]string `json:"sinonimos"`
	Latitude    *float64  `json:"latitud"`
	Longitude   *float64  `json:"longitud"`
	FlagGlyph   *string   `json:"bandera"`
	Description *string   `json:"descripcionGeneral"`
	Culture     *string   `json:"cultura"`
	FunFacts    *[]string `json:"datosCuriosos"`
	Continent   string    `json:"continent"`
	Population  int64     `json:"population"`
}

func (r *rawCountry) missingFields() []string {
	var missing []string
	if r.Synonyms == nil {
		missing = append(missing, "sinonimos")
	}
	if r.Latitude == nil {
		missing = append(missing, "latitud")
	}
	if r.Longitude == nil {
		missing = append(missing, "longitud")
	}
	if r.FlagGlyph == nil {
		missing = append(missing, "bandera")
	}
	if r.Description == nil {
		missing = append(missing, "descripcionGeneral")
	}
	if r.Culture == nil {
		missing = append(missing, "cultura")
	}
	if r.FunFacts == nil {
		missing = append(missing, "datosCuriosos")
	}
	return missing
}

func loadJSON(path string) ([]*Country, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var raw []*rawCountry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	records := make([]*Country, 0, len(raw))
	for i, rec := range raw {
		if missing := rec.missingFields(); len(missing) > 0 {
			return nil, fmt.Errorf("parse catalog: record %d (%q) missing %s",
				i, rec.ID, strings.Join(missing, ", "))
		}
		records = append(records, &Country{
			ID:          rec.ID,
			DisplayName: rec.DisplayName,
			Synonyms:    *rec.Synonyms,
			Latitude:    *rec.Latitude,
			Longitude:   *rec.Longitude,
			FlagGlyph:   *rec.FlagGlyph,
			Description: *rec.Description,
			Culture:     *rec.Culture,
			FunFacts:    *rec.FunFacts,
			Continent:   rec.Continent,
			Population:  rec.Population,
		})
	}
	return records, nil
}

// Len reports the number of countries.
func (c *Catalog) Len() int {
	return len(c.countries)
}

// All returns every country in dataset order so the view layer can draw one
// pin per record. The returned slice must not be mutated.
func (c *Catalog) All() []*Country {
	return c.countries
}

// ByID returns the country with the given id.
func (c *Catalog) ByID(id string) (*Country, bool) {
	country, ok := c.byID[id]
	return country, ok
}

// Find matches a spoken phrase against the catalog. The phrase is lowercased
// and trimmed; a country matches when its id, lowercased display name, or any
// synonym appears as a substring of the phrase. Transcripts carry filler
// ("quiero ir a méxico"), so equality would reject nearly every utterance.
// Countries are tried in dataset order and synonyms in declared order, which
// makes ties deterministic.
func (c *Catalog) Find(phrase string) (*Country, bool) {
	needle := strings.ToLower(strings.TrimSpace(phrase))
	if needle == "" {
		return nil, false
	}
	for _, country := range c.countries {
		if strings.Contains(needle, country.ID) {
			return country, true
		}
		if strings.Contains(needle, strings.ToLower(country.DisplayName)) {
			return country, true
		}
		for _, synonym := range country.Synonyms {
			if synonym != "" && strings.Contains(needle, synonym) {
				return country, true
			}
		}
	}
	return nil, false
}
