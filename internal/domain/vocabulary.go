package domain

// Chemical is one entry of the EIONET pollutant vocabulary.
type Chemical struct {
	ID   int64
	Code string
	Name string
}

// UnitMapping maps a pollutant id to its recommended measure unit code.
type UnitMapping struct {
	ID              int64
	RecommendedUnit string
}

// CountryCode pairs the two ISO 3166-1 representations of a country.
type CountryCode struct {
	ISO2 string
	ISO3 string
}

// MeasureUnit is one entry of the EIONET concentration vocabulary, loaded
// into the warehouse's measureUnit reference table.
type MeasureUnit struct {
	Code        string
	Name        string
	Description string
}

// Vocabulary holds the three static reference mappings used across the
// pipeline. It is built once at startup and read-only afterwards.
type Vocabulary struct {
	chemicalCodes    map[int64]string
	recommendedUnits map[int64]string
	countryISO3      map[string]string
	chemicals        []Chemical
}

// NewVocabulary indexes the parsed vocabulary entries. Later duplicates of a
// pollutant id or iso2 code are ignored; the first entry wins.
func NewVocabulary(chemicals []Chemical, units []UnitMapping, countries []CountryCode) *Vocabulary {
	v := &Vocabulary{
		chemicalCodes:    make(map[int64]string, len(chemicals)),
		recommendedUnits: make(map[int64]string, len(units)),
		countryISO3:      make(map[string]string, len(countries)),
		chemicals:        chemicals,
	}
	for _, c := range chemicals {
		if _, ok := v.chemicalCodes[c.ID]; !ok {
			v.chemicalCodes[c.ID] = c.Code
		}
	}
	for _, u := range units {
		if _, ok := v.recommendedUnits[u.ID]; !ok {
			v.recommendedUnits[u.ID] = u.RecommendedUnit
		}
	}
	for _, c := range countries {
		if _, ok := v.countryISO3[c.ISO2]; !ok {
			v.countryISO3[c.ISO2] = c.ISO3
		}
	}
	return v
}

// ChemicalCode resolves a pollutant id to its chemical code.
func (v *Vocabulary) ChemicalCode(id int64) (string, bool) {
	code, ok := v.chemicalCodes[id]
	return code, ok
}

// RecommendedUnit resolves a pollutant id to its recommended unit code.
func (v *Vocabulary) RecommendedUnit(id int64) (string, bool) {
	unit, ok := v.recommendedUnits[id]
	return unit, ok
}

// CountryISO3 resolves an alpha-2 country code to its alpha-3 form.
func (v *Vocabulary) CountryISO3(iso2 string) (string, bool) {
	iso3, ok := v.countryISO3[iso2]
	return iso3, ok
}

// Chemicals returns the vocabulary entries de-duplicated by chemical code,
// in input order, for loading the warehouse's chemical reference table.
func (v *Vocabulary) Chemicals() []Chemical {
	seen := make(map[string]struct{}, len(v.chemicals))
	out := make([]Chemical, 0, len(v.chemicals))
	for _, c := range v.chemicals {
		if _, ok := seen[c.Code]; ok {
			continue
		}
		seen[c.Code] = struct{}{}
		out = append(out, c)
	}
	return out
}
