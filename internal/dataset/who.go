package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
)

const (
	whoFileName = "HFA_221_EN.csv"
	// whoPreambleLines is the export banner the HFA extractor prepends
	// before the data rows.
	whoPreambleLines = 26
)

// WHOStore is the warehouse surface the WHO importer needs.
type WHOStore interface {
	HasHealthRates(ctx context.Context) (bool, error)
	InsertHealthRates(ctx context.Context, rows []warehouse.HealthRate) error
}

// WHOImporter loads the Health For All indicator 221, the standardized
// death rate for respiratory diseases, into sDRRespiratoryDisease.
type WHOImporter struct {
	dataDir string
	store   WHOStore
	logger  *slog.Logger
}

// NewWHOImporter creates the importer. dataDir must contain HFA_221_EN.csv.
func NewWHOImporter(dataDir string, store WHOStore, logger *slog.Logger) *WHOImporter {
	return &WHOImporter{dataDir: dataDir, store: store, logger: logger}
}

// Run parses and loads the mortality series. The load is skipped while the
// table is populated.
func (i *WHOImporter) Run(ctx context.Context) error {
	loaded, err := i.store.HasHealthRates(ctx)
	if err != nil {
		return err
	}
	if loaded {
		i.logger.Info("health rates already loaded, skipping")
		return nil
	}

	rows, err := i.parse()
	if err != nil {
		return err
	}
	if err := i.store.InsertHealthRates(ctx, rows); err != nil {
		return err
	}
	i.logger.Info("health rates loaded", "rows", len(rows))
	return nil
}

// parse reads the headerless export: countryCode, country group, sex, year,
// rate. Rows missing any of code, year or rate are dropped.
func (i *WHOImporter) parse() ([]warehouse.HealthRate, error) {
	path := filepath.Join(i.dataDir, whoFileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open WHO dataset: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for n := 0; n < whoPreambleLines; n++ {
		if _, err := br.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("skip WHO preamble: %w", err)
		}
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	var rows []warehouse.HealthRate
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read WHO row: %w", err)
		}
		if len(record) < 5 || record[0] == "" {
			continue
		}
		year, err := strconv.Atoi(record[3])
		if err != nil {
			continue
		}
		rate, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			continue
		}
		rows = append(rows, warehouse.HealthRate{
			CountryCode: record[0],
			Year:        year,
			Rate:        rate,
		})
	}
	return rows, nil
}
