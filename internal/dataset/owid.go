// Package dataset holds the single-pass importers for the supplementary
// open datasets: OWID development indicators, EDGAR greenhouse-gas
// emissions, and the WHO respiratory disease mortality series. Each
// importer reads its source files from a local data directory, reshapes
// them into warehouse rows, and loads them through the shared store.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
)

const owidFileName = "owid-co2-data.csv"

// OWIDStore is the warehouse surface the OWID importer needs.
type OWIDStore interface {
	DistinctCountryCodes(ctx context.Context) (map[string]struct{}, error)
	InsertCountries(ctx context.Context, rows []warehouse.Country) error
	HasCountryInfo(ctx context.Context) (bool, error)
	InsertCountryInfo(ctx context.Context, rows []warehouse.CountryInfo) error
}

// OWIDImporter loads the Our World in Data CO2 dataset into the country
// and countryInfo tables. The country registry is topped up on every run;
// the indicator series is loaded once and skipped while populated.
type OWIDImporter struct {
	dataDir string
	store   OWIDStore
	logger  *slog.Logger
}

// NewOWIDImporter creates the importer. dataDir must contain
// owid-co2-data.csv.
func NewOWIDImporter(dataDir string, store OWIDStore, logger *slog.Logger) *OWIDImporter {
	return &OWIDImporter{dataDir: dataDir, store: store, logger: logger}
}

// Run parses the dataset and loads countries followed by per-year
// indicators. Rows without an ISO-3 code are aggregates (continents, income
// groups) and are dropped.
func (i *OWIDImporter) Run(ctx context.Context) error {
	countries, info, err := i.parse()
	if err != nil {
		return err
	}

	existing, err := i.store.DistinctCountryCodes(ctx)
	if err != nil {
		return err
	}
	var newCountries []warehouse.Country
	for _, c := range countries {
		if _, known := existing[c.Code]; known {
			continue
		}
		newCountries = append(newCountries, c)
	}
	if err := i.store.InsertCountries(ctx, newCountries); err != nil {
		return err
	}
	i.logger.Info("countries loaded", "inserted", len(newCountries), "known", len(existing))

	loaded, err := i.store.HasCountryInfo(ctx)
	if err != nil {
		return err
	}
	if loaded {
		i.logger.Info("country indicators already loaded, skipping")
		return nil
	}
	if err := i.store.InsertCountryInfo(ctx, info); err != nil {
		return err
	}
	i.logger.Info("country indicators loaded", "rows", len(info))
	return nil
}

func (i *OWIDImporter) parse() ([]warehouse.Country, []warehouse.CountryInfo, error) {
	path := filepath.Join(i.dataDir, owidFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open OWID dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read OWID header: %w", err)
	}
	cols, err := columnIndex(header, "iso_code", "country", "year", "population", "gdp", "energy_per_capita")
	if err != nil {
		return nil, nil, fmt.Errorf("OWID dataset: %w", err)
	}

	var countries []warehouse.Country
	var info []warehouse.CountryInfo
	seen := make(map[warehouse.Country]struct{})
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read OWID row: %w", err)
		}

		iso := row[cols["iso_code"]]
		if iso == "" {
			continue
		}

		country := warehouse.Country{Code: iso, Name: row[cols["country"]]}
		if _, dup := seen[country]; !dup {
			seen[country] = struct{}{}
			countries = append(countries, country)
		}

		year, err := strconv.Atoi(row[cols["year"]])
		if err != nil {
			return nil, nil, fmt.Errorf("OWID row for %s: bad year %q", iso, row[cols["year"]])
		}
		info = append(info, warehouse.CountryInfo{
			Year:                       year,
			CountryCode:                iso,
			Population:                 intOrSentinel(row[cols["population"]]),
			GDP:                        intOrSentinel(row[cols["gdp"]]),
			EnergyConsumptionPerCapita: floatOrNaN(row[cols["energy_per_capita"]]),
		})
	}
	return countries, info, nil
}

// intOrSentinel parses a numeric cell, mapping a missing value to -1. The
// source encodes counts as floats ("83129285.0").
func intOrSentinel(cell string) int64 {
	if cell == "" {
		return -1
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return -1
	}
	return int64(v)
}

// floatOrNaN parses a numeric cell, keeping a missing value as NaN so it
// lands in the warehouse as a non-value rather than a fake zero.
func floatOrNaN(cell string) float64 {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// columnIndex maps the named columns to their positions in the header.
func columnIndex(header []string, names ...string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[name] = i
	}
	out := make(map[string]int, len(names))
	for _, name := range names {
		i, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		out[name] = i
	}
	return out, nil
}
