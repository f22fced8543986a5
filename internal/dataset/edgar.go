package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
	"github.com/openairdata/enviro-etl/internal/domain"
)

const (
	edgarSheetName = "IPCC 2006"
	// edgarHeaderRow is the zero-based row of the column headers; the rows
	// above it carry the workbook's provenance banner.
	edgarHeaderRow = 9

	edgarUnitCode = "Gg"
	edgarUnitName = "Gigagrams"
)

// edgarWorkbooks are the per-substance exports that make up one EDGAR
// release. All share the same sheet layout.
var edgarWorkbooks = []string{
	"IEA_EDGAR_CO2_1970_2023.xlsx",
	"EDGAR_N2O_1970_2023.xlsx",
	"EDGAR_F-gases_1990_2023.xlsx",
	"EDGAR_CO2bio_1970_2023.xlsx",
	"EDGAR_CH4_1970_2023.xlsx",
	"EDGAR_AR5g_F-gases_1990_2023.xlsx",
	"EDGAR_AR5_GHG_1970_2023.xlsx",
}

// EDGARStore is the warehouse surface the EDGAR importer needs.
type EDGARStore interface {
	DistinctCountryCodes(ctx context.Context) (map[string]struct{}, error)
	DistinctChemicalCodes(ctx context.Context) (map[string]struct{}, error)
	DistinctMeasureUnitCodes(ctx context.Context) (map[string]struct{}, error)
	DistinctSectorCodes(ctx context.Context) (map[string]struct{}, error)
	InsertChemicals(ctx context.Context, rows []domain.Chemical) error
	InsertMeasureUnits(ctx context.Context, rows []domain.MeasureUnit) error
	InsertSectors(ctx context.Context, rows []warehouse.Sector) error
	HasEmissions(ctx context.Context) (bool, error)
	InsertEmissions(ctx context.Context, rows []warehouse.Emission) error
}

// EDGARImporter loads the Emissions Database for Global Atmospheric
// Research workbooks. Each workbook melts its per-year columns into
// emission rows; sector and substance vocabularies are collected along the
// way. Emissions for countries absent from the country registry are
// dropped to keep referential integrity.
type EDGARImporter struct {
	dataDir   string
	workbooks []string
	store     EDGARStore
	logger    *slog.Logger
}

// NewEDGARImporter creates the importer. dataDir must contain the release
// workbooks; a nil workbook list selects the full release.
func NewEDGARImporter(dataDir string, workbooks []string, store EDGARStore, logger *slog.Logger) *EDGARImporter {
	if workbooks == nil {
		workbooks = edgarWorkbooks
	}
	return &EDGARImporter{dataDir: dataDir, workbooks: workbooks, store: store, logger: logger}
}

type edgarTables struct {
	sectors   []warehouse.Sector
	chemicals []domain.Chemical
	emissions []warehouse.Emission
}

// Run parses every workbook and loads vocabularies before the emission
// rows they are referenced by.
func (i *EDGARImporter) Run(ctx context.Context) error {
	var tables edgarTables
	seenSectors := make(map[warehouse.Sector]struct{})
	seenChemicals := make(map[string]struct{})
	seenEmissions := make(map[warehouse.Emission]struct{})

	for _, name := range i.workbooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.parseWorkbook(name, &tables, seenSectors, seenChemicals, seenEmissions); err != nil {
			return fmt.Errorf("workbook %s: %w", name, err)
		}
	}

	if err := i.loadVocabularies(ctx, &tables); err != nil {
		return err
	}
	return i.loadEmissions(ctx, tables.emissions)
}

func (i *EDGARImporter) loadVocabularies(ctx context.Context, tables *edgarTables) error {
	knownChemicals, err := i.store.DistinctChemicalCodes(ctx)
	if err != nil {
		return err
	}
	var chemicals []domain.Chemical
	for _, c := range tables.chemicals {
		if _, known := knownChemicals[c.Code]; known {
			continue
		}
		chemicals = append(chemicals, c)
	}
	if err := i.store.InsertChemicals(ctx, chemicals); err != nil {
		return err
	}

	knownUnits, err := i.store.DistinctMeasureUnitCodes(ctx)
	if err != nil {
		return err
	}
	if _, known := knownUnits[edgarUnitCode]; !known {
		units := []domain.MeasureUnit{{Code: edgarUnitCode, Name: edgarUnitName}}
		if err := i.store.InsertMeasureUnits(ctx, units); err != nil {
			return err
		}
	}

	knownSectors, err := i.store.DistinctSectorCodes(ctx)
	if err != nil {
		return err
	}
	var sectors []warehouse.Sector
	for _, s := range tables.sectors {
		if _, known := knownSectors[s.Code]; known {
			continue
		}
		sectors = append(sectors, s)
	}
	if err := i.store.InsertSectors(ctx, sectors); err != nil {
		return err
	}

	i.logger.Info("emission vocabularies loaded",
		"chemicals", len(chemicals), "sectors", len(sectors))
	return nil
}

func (i *EDGARImporter) loadEmissions(ctx context.Context, emissions []warehouse.Emission) error {
	loaded, err := i.store.HasEmissions(ctx)
	if err != nil {
		return err
	}
	if loaded {
		i.logger.Info("emission data already loaded, skipping")
		return nil
	}

	countryCodes, err := i.store.DistinctCountryCodes(ctx)
	if err != nil {
		return err
	}
	kept := emissions[:0]
	dropped := 0
	for _, e := range emissions {
		if _, known := countryCodes[e.CountryCode]; !known {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	if err := i.store.InsertEmissions(ctx, kept); err != nil {
		return err
	}
	i.logger.Info("emission data loaded", "rows", len(kept), "unknown_country_rows", dropped)
	return nil
}

func (i *EDGARImporter) parseWorkbook(
	name string,
	tables *edgarTables,
	seenSectors map[warehouse.Sector]struct{},
	seenChemicals map[string]struct{},
	seenEmissions map[warehouse.Emission]struct{},
) error {
	f, err := excelize.OpenFile(filepath.Join(i.dataDir, name))
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(edgarSheetName)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", edgarSheetName, err)
	}
	if len(rows) <= edgarHeaderRow {
		return fmt.Errorf("sheet %q has no header row", edgarSheetName)
	}

	header := rows[edgarHeaderRow]
	cols, err := columnIndex(header,
		"Country_code_A3", "ipcc_code_2006_for_standard_report",
		"ipcc_code_2006_for_standard_report_name", "Substance", "fossil_bio")
	if err != nil {
		return err
	}

	// The remaining columns are the melted year series, one per Y_#### header.
	type yearColumn struct {
		idx  int
		year int
	}
	var years []yearColumn
	for idx, colName := range header {
		yearStr, ok := strings.CutPrefix(colName, "Y_")
		if !ok {
			continue
		}
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return fmt.Errorf("bad year column %q", colName)
		}
		years = append(years, yearColumn{idx: idx, year: year})
	}

	for _, row := range rows[edgarHeaderRow+1:] {
		country := cell(row, cols["Country_code_A3"])
		sectorCode := cell(row, cols["ipcc_code_2006_for_standard_report"])
		substance := cell(row, cols["Substance"])
		if country == "" && sectorCode == "" && substance == "" {
			continue
		}

		sector := warehouse.Sector{
			Code: sectorCode,
			Name: cell(row, cols["ipcc_code_2006_for_standard_report_name"]),
		}
		if _, dup := seenSectors[sector]; !dup {
			seenSectors[sector] = struct{}{}
			tables.sectors = append(tables.sectors, sector)
		}
		if _, dup := seenChemicals[substance]; !dup {
			seenChemicals[substance] = struct{}{}
			tables.chemicals = append(tables.chemicals, domain.Chemical{Code: substance})
		}

		for _, yc := range years {
			raw := cell(row, yc.idx)
			if raw == "" {
				continue
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			emission := warehouse.Emission{
				Year:            yc.year,
				Value:           value,
				FossilBio:       cell(row, cols["fossil_bio"]),
				CountryCode:     country,
				SectorCode:      sectorCode,
				ChemicalCode:    substance,
				MeasureUnitCode: edgarUnitCode,
			}
			if _, dup := seenEmissions[emission]; dup {
				continue
			}
			seenEmissions[emission] = struct{}{}
			tables.emissions = append(tables.emissions, emission)
		}
	}
	return nil
}

// cell reads a column that may be absent on short rows; excelize trims
// trailing empty cells.
func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}
