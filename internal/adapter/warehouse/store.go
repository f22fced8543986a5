// Package warehouse is the Postgres adapter. Every bulk insert runs inside
// its own transaction and is rolled back as a whole on failure, so a
// partially failed run never leaves half a row-set behind.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openairdata/enviro-etl/internal/domain"
)

// City is one row of the city registry.
type City struct {
	Name        string
	CountryCode string // ISO 3166-1 alpha-3
}

// Country is one row of the country reference table.
type Country struct {
	Code string // ISO 3166-1 alpha-3
	Name string
}

// CountryInfo is one per-year development indicator row.
type CountryInfo struct {
	Year                       int
	CountryCode                string
	Population                 int64
	GDP                        int64
	EnergyConsumptionPerCapita float64
}

// Sector is one IPCC emission sector.
type Sector struct {
	Code string
	Name string
}

// Emission is one per-year greenhouse-gas emission row.
type Emission struct {
	Year            int
	Value           float64
	FossilBio       string
	CountryCode     string
	SectorCode      string
	ChemicalCode    string
	MeasureUnitCode string
}

// HealthRate is one standardized-death-rate row.
type HealthRate struct {
	CountryCode string
	Year        int
	Rate        float64
}

// Store provides warehouse access over a shared connection pool. Workers
// obtain independent transactions from the pool; no transaction spans more
// than one row-set.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens the pool and verifies the database is reachable.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CityID resolves a city's warehouse identifier by name and alpha-3 country
// code. The second return value is false when no such city is registered.
func (s *Store) CityID(ctx context.Context, name, countryCode string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT "city_ID" FROM city WHERE "name" = $1 AND "countryCode" = $2`,
		name, countryCode,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("look up city %q/%s: %w", name, countryCode, err)
	}
	return id, true, nil
}

// DistinctChemicalCodes returns the chemical codes already present, used to
// keep the reference load idempotent across runs.
func (s *Store) DistinctChemicalCodes(ctx context.Context) (map[string]struct{}, error) {
	return s.distinctStrings(ctx, `SELECT DISTINCT "chemicalCode" FROM chemical`)
}

// DistinctCountryCodes returns the country codes present in the country
// reference table.
func (s *Store) DistinctCountryCodes(ctx context.Context) (map[string]struct{}, error) {
	return s.distinctStrings(ctx, `SELECT DISTINCT "countryCode" FROM country`)
}

// DistinctMeasureUnitCodes returns the measure unit codes already present.
func (s *Store) DistinctMeasureUnitCodes(ctx context.Context) (map[string]struct{}, error) {
	return s.distinctStrings(ctx, `SELECT DISTINCT "measureUnitCode" FROM "measureUnit"`)
}

// DistinctSectorCodes returns the IPCC sector codes already present.
func (s *Store) DistinctSectorCodes(ctx context.Context) (map[string]struct{}, error) {
	return s.distinctStrings(ctx, `SELECT DISTINCT "sectorCode" FROM sector`)
}

// HasCountryInfo reports whether the countryInfo table holds any rows.
func (s *Store) HasCountryInfo(ctx context.Context) (bool, error) {
	return s.hasRows(ctx, `SELECT 1 FROM "countryInfo" LIMIT 1`)
}

// HasHealthRates reports whether the sDRRespiratoryDisease table holds any rows.
func (s *Store) HasHealthRates(ctx context.Context) (bool, error) {
	return s.hasRows(ctx, `SELECT 1 FROM "sDRRespiratoryDisease" LIMIT 1`)
}

// HasEmissions reports whether the emissionData table holds any rows.
func (s *Store) HasEmissions(ctx context.Context) (bool, error) {
	return s.hasRows(ctx, `SELECT 1 FROM "emissionData" LIMIT 1`)
}

// CityKeys returns every (name, countryCode) pair registered in the city
// table, used to keep the catalog load idempotent across runs.
func (s *Store) CityKeys(ctx context.Context) (map[City]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT "name", COALESCE("countryCode", '') FROM city`)
	if err != nil {
		return nil, fmt.Errorf("query city keys: %w", err)
	}
	defer rows.Close()

	out := make(map[City]struct{})
	for rows.Next() {
		var c City
		if err := rows.Scan(&c.Name, &c.CountryCode); err != nil {
			return nil, fmt.Errorf("scan city key: %w", err)
		}
		out[c] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate city keys: %w", err)
	}
	return out, nil
}

// InsertMeasurements bulk-loads one file's normalized rows into
// airMeasurement atomically.
func (s *Store) InsertMeasurements(ctx context.Context, rows []domain.Measurement) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Date, r.Value, r.CityID, r.UnitCode, r.ChemicalCode}
	}
	return s.copyInto(ctx, "airMeasurement",
		[]string{"date", "value", "city_ID", "measureUnitCode", "chemicalCode"}, data)
}

// InsertCities appends rows to the city registry.
func (s *Store) InsertCities(ctx context.Context, rows []City) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Name, r.CountryCode}
	}
	return s.copyInto(ctx, "city", []string{"name", "countryCode"}, data)
}

// InsertChemicals appends chemical vocabulary rows.
func (s *Store) InsertChemicals(ctx context.Context, rows []domain.Chemical) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Code, r.Name}
	}
	return s.copyInto(ctx, "chemical", []string{"chemicalCode", "name"}, data)
}

// InsertMeasureUnits appends measure unit vocabulary rows.
func (s *Store) InsertMeasureUnits(ctx context.Context, rows []domain.MeasureUnit) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Code, r.Name, r.Description}
	}
	return s.copyInto(ctx, "measureUnit", []string{"measureUnitCode", "name", "description"}, data)
}

// InsertCountries appends country reference rows.
func (s *Store) InsertCountries(ctx context.Context, rows []Country) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Code, r.Name}
	}
	return s.copyInto(ctx, "country", []string{"countryCode", "name"}, data)
}

// InsertCountryInfo appends per-year development indicator rows.
func (s *Store) InsertCountryInfo(ctx context.Context, rows []CountryInfo) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Year, r.CountryCode, r.Population, r.GDP, r.EnergyConsumptionPerCapita}
	}
	return s.copyInto(ctx, "countryInfo",
		[]string{"year", "countryCode", "population", "gdp", "energyConsumptionPerCapita"}, data)
}

// InsertSectors appends emission sector rows.
func (s *Store) InsertSectors(ctx context.Context, rows []Sector) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Code, r.Name}
	}
	return s.copyInto(ctx, "sector", []string{"sectorCode", "name"}, data)
}

// InsertEmissions appends greenhouse-gas emission rows.
func (s *Store) InsertEmissions(ctx context.Context, rows []Emission) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Year, r.Value, r.FossilBio, r.CountryCode, r.SectorCode, r.ChemicalCode, r.MeasureUnitCode}
	}
	return s.copyInto(ctx, "emissionData",
		[]string{"year", "value", "fossil_bio", "countryCode", "sectorCode", "chemicalCode", "measureUnitCode"}, data)
}

// InsertHealthRates appends respiratory disease death-rate rows.
func (s *Store) InsertHealthRates(ctx context.Context, rows []HealthRate) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.Rate, r.Year, r.CountryCode}
	}
	return s.copyInto(ctx, "sDRRespiratoryDisease", []string{"rate", "year", "countryCode"}, data)
}

// copyInto streams rows into a table inside a single transaction. COPY is
// all-or-nothing here: any failure rolls the whole row-set back.
func (s *Store) copyInto(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s load: %w", table, err)
	}

	s.logger.Debug("rows loaded", "table", table, "rows", n)
	return nil
}

func (s *Store) hasRows(ctx context.Context, query string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, query).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe table: %w", err)
	}
	return true, nil
}

func (s *Store) distinctStrings(ctx context.Context, query string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query distinct codes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		out[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return out, nil
}
