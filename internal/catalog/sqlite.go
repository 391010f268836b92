package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// loadSQLite reads the catalog from a SQLite database shipped with the app.
// The paises table mirrors the JSON form; list-valued fields are stored as
// JSON arrays. Rows come back in position order, which defines match order.
func loadSQLite(path string) ([]*Country, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}

	rows, err := db.Query(
		`SELECT id, nombre, sinonimos, latitud, longitud, bandera,
		        descripcion_general, cultura, datos_curiosos, continent, population
		 FROM paises ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query catalog db: %w", err)
	}
	defer rows.Close()

	var records []*Country
	for rows.Next() {
		var (
			rec      Country
			synonyms string
			facts    string
		)
		if err := rows.Scan(&rec.ID, &rec.DisplayName, &synonyms, &rec.Latitude, &rec.Longitude,
			&rec.FlagGlyph, &rec.Description, &rec.Culture, &facts, &rec.Continent, &rec.Population); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if synonyms != "" {
			if err := json.Unmarshal([]byte(synonyms), &rec.Synonyms); err != nil {
				return nil, fmt.Errorf("parse sinonimos for %q: %w", rec.ID, err)
			}
		}
		if facts != "" {
			if err := json.Unmarshal([]byte(facts), &rec.FunFacts); err != nil {
				return nil, fmt.Errorf("parse datos_curiosos for %q: %w", rec.ID, err)
			}
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read catalog rows: %w", err)
	}
	return records, nil
}
