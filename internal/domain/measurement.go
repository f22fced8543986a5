package domain

import (
	"strings"
	"time"
)

// Dataset identifies one of the three EEA dataset variants.
type Dataset int

const (
	Dataset1 Dataset = 1 // most processed, smallest
	Dataset2 Dataset = 2 // verified
	Dataset3 Dataset = 3 // full raw granularity
)

// Aggregation is the rollup granularity of a published file.
type Aggregation string

const (
	AggregationDay  Aggregation = "day"
	AggregationHour Aggregation = "hour"
)

// Country is one entry of the EEA country catalog.
type Country struct {
	Code string `json:"countryCode"`
	Name string `json:"countryName"`
}

// City is one entry of the EEA city catalog for a country.
type City struct {
	Name string `json:"cityName"`
}

// Location is one (country, city) pair from the discovery catalog.
type Location struct {
	CountryCode string // ISO 3166-1 alpha-2
	CountryName string
	CityName    string
}

// RawMeasurement is one observation decoded from a parquet measurement file.
// HasPollutant and HasValue distinguish null columns from zero values.
type RawMeasurement struct {
	PollutantID  int64
	HasPollutant bool
	Start        time.Time
	Value        float64
	HasValue     bool
	Unit         string
	AggType      Aggregation
	Valid        bool
}

// Measurement is a normalized daily observation ready for the warehouse's
// airMeasurement table. CityID is attached after the owning city is resolved
// against the warehouse's location registry.
type Measurement struct {
	Date         time.Time
	Value        float64
	CityID       int64
	UnitCode     string
	ChemicalCode string
}

var citySanitizer = strings.NewReplacer(" ", "_", "/", "_", "\\", "_")

// SanitizeCityName makes a city name safe to use as a directory name.
func SanitizeCityName(name string) string {
	return citySanitizer.Replace(name)
}
