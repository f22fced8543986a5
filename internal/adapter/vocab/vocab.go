// Package vocab loads the static reference vocabularies from CSV files.
// The files are produced offline from the EIONET data dictionary; their
// absence at startup is fatal because every downstream stage resolves
// against them.
package vocab

import (
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openairdata/enviro-etl/internal/domain"
)

// File names expected inside the vocabulary directory.
const (
	chemicalFile      = "chemicalVocabulary.csv"
	unitMapFile       = "chemicalUnitMap.csv"
	countryCodesFile  = "countryCodes.csv"
	concentrationFile = "concentration.csv"
)

// Load reads the three static mappings and builds the vocabulary resolver.
func Load(dir string) (*domain.Vocabulary, error) {
	chemicals, err := loadChemicals(filepath.Join(dir, chemicalFile))
	if err != nil {
		return nil, err
	}
	units, err := loadUnitMap(filepath.Join(dir, unitMapFile))
	if err != nil {
		return nil, err
	}
	countries, err := loadCountryCodes(filepath.Join(dir, countryCodesFile))
	if err != nil {
		return nil, err
	}
	return domain.NewVocabulary(chemicals, units, countries), nil
}

// LoadMeasureUnits reads the EIONET concentration vocabulary for the
// warehouse's measureUnit reference table. The unit code is the final URI
// path segment.
func LoadMeasureUnits(dir string) ([]domain.MeasureUnit, error) {
	rows, header, err := readCSV(filepath.Join(dir, concentrationFile))
	if err != nil {
		return nil, err
	}
	cols, err := columns(concentrationFile, header, "URI", "Label", "Definition")
	if err != nil {
		return nil, err
	}
	uri, label, def := cols[0], cols[1], cols[2]

	units := make([]domain.MeasureUnit, 0, len(rows))
	for _, row := range rows {
		units = append(units, domain.MeasureUnit{
			Code:        path.Base(row[uri]),
			Name:        row[label],
			Description: row[def],
		})
	}
	return units, nil
}

func loadChemicals(file string) ([]domain.Chemical, error) {
	rows, header, err := readCSV(file)
	if err != nil {
		return nil, err
	}
	cols, err := columns(file, header, "chemicalID", "name", "chemicalCode")
	if err != nil {
		return nil, err
	}
	idCol, nameCol, codeCol := cols[0], cols[1], cols[2]

	chemicals := make([]domain.Chemical, 0, len(rows))
	for i, row := range rows {
		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad chemicalID %q", file, i+2, row[idCol])
		}
		chemicals = append(chemicals, domain.Chemical{
			ID:   id,
			Code: row[codeCol],
			Name: row[nameCol],
		})
	}
	return chemicals, nil
}

func loadUnitMap(file string) ([]domain.UnitMapping, error) {
	rows, header, err := readCSV(file)
	if err != nil {
		return nil, err
	}
	cols, err := columns(file, header, "chemicalID", "recommendedUnit")
	if err != nil {
		return nil, err
	}
	idCol, unitCol := cols[0], cols[1]

	units := make([]domain.UnitMapping, 0, len(rows))
	for i, row := range rows {
		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad chemicalID %q", file, i+2, row[idCol])
		}
		units = append(units, domain.UnitMapping{ID: id, RecommendedUnit: row[unitCol]})
	}
	return units, nil
}

func loadCountryCodes(file string) ([]domain.CountryCode, error) {
	rows, header, err := readCSV(file)
	if err != nil {
		return nil, err
	}
	cols, err := columns(file, header, "alpha-2", "alpha-3")
	if err != nil {
		return nil, err
	}
	iso2Col, iso3Col := cols[0], cols[1]

	codes := make([]domain.CountryCode, 0, len(rows))
	for _, row := range rows {
		codes = append(codes, domain.CountryCode{ISO2: row[iso2Col], ISO3: row[iso3Col]})
	}
	return codes, nil
}

// columns resolves required header names to indexes, erroring on any that
// are absent so a malformed vocabulary file fails loudly at startup.
func columns(file string, header map[string]int, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		idx, ok := header[name]
		if !ok {
			return nil, fmt.Errorf("%s: missing column %q", file, name)
		}
		out[i] = idx
	}
	return out, nil
}

// readCSV reads a headered CSV file and returns its data rows plus a
// column-name index.
func readCSV(file string) ([][]string, map[string]int, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, fmt.Errorf("open vocabulary file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", file, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("read %s: empty file", file)
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.TrimSpace(name)] = i
	}
	return records[1:], header, nil
}
