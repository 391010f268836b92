package catalog

// Coordinate is a point in signed decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Country is one immutable record of the curated catalog. Wire tags follow
// the serialized dataset, which carries Spanish field names.
type Country struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"nombre"`
	Synonyms    []string `json:"sinonimos"`
	Latitude    float64  `json:"latitud"`
	Longitude   float64  `json:"longitud"`
	FlagGlyph   string   `json:"bandera"`
	Description string   `json:"descripcionGeneral"`
	Culture     string   `json:"cultura"`
	FunFacts    []string `json:"datosCuriosos"`
	Continent   string   `json:"continent"`
	Population  int64    `json:"population"`
}

// Coordinate returns the country's map position.
func (c *Country) Coordinate() Coordinate {
	return Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

// FirstFunFact returns the spoken fact, or an empty string when the record
// carries none.
func (c *Country) FirstFunFact() string {
	if len(c.FunFacts) == 0 {
		return ""
	}
	return c.FunFacts[0]
}
