// Package domain models European Environment Agency (EEA) air quality data
// and the static vocabularies needed to normalize it.
//
// # Data Source
//
// Measurements come from the EEA downloads API
// (https://eeadmz1-downloads-api-appservice.azurewebsites.net), which publishes
// three dataset variants per monitoring location: dataset 1 (most processed,
// smallest), dataset 2 (verified), and dataset 3 (full raw granularity, on the
// order of terabytes). For each (country, city, dataset) the API returns a
// manifest of parquet file URLs, aggregated either per day or per hour.
//
// # Measurement Conventions
//
// Each parquet row carries:
//
//	Pollutant: EIONET vocabulary concept id, e.g. 8 = NO2.
//	Start:     observation start timestamp.
//	Value:     measured concentration; may be null.
//	Unit:      measure unit code, e.g. "ug.m-3"; frequently empty, in which
//	           case the pollutant's recommended unit from the EIONET data
//	           dictionary applies.
//	AggType:   "day" or "hour" rollup granularity.
//	Validity:  -1 marks an invalid observation.
//
// Files are assumed single-pollutant; a file mixing pollutant ids is reported
// as [ErrMixedPollutants] rather than tagged with the first id it happens to
// contain.
//
// # Vocabularies
//
// Three static mappings are loaded once at startup and never mutated:
// pollutant id to chemical code, pollutant id to recommended unit, and
// ISO 3166-1 alpha-2 to alpha-3 country code. A missing key is not an error;
// lookups return (value, ok) and callers drop the affected records.
package domain
