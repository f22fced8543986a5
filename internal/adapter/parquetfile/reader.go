// Package parquetfile decodes EEA parquet measurement files.
package parquetfile

import (
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/openairdata/enviro-etl/internal/domain"
)

// fileRow is the projection of the EEA measurement schema the pipeline
// needs. Remaining columns (Samplingpoint, End, Verification, ...) are left
// to the reader's schema conversion to discard. Optional columns map to
// pointers so null cells stay distinguishable from zero values.
type fileRow struct {
	Pollutant *int64     `parquet:"Pollutant,optional"`
	Start     *time.Time `parquet:"Start,optional"`
	Value     *float64   `parquet:"Value,optional"`
	Unit      *string    `parquet:"Unit,optional"`
	AggType   *string    `parquet:"AggType,optional"`
	Validity  *int64     `parquet:"Validity,optional"`
}

// invalidValidity is the EEA flag for observations that failed validation.
const invalidValidity = -1

// ReadMeasurements decodes every row of one measurement file.
func ReadMeasurements(path string) ([]domain.RawMeasurement, error) {
	rows, err := parquet.ReadFile[fileRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet file %s: %w", path, err)
	}

	out := make([]domain.RawMeasurement, 0, len(rows))
	for _, r := range rows {
		m := domain.RawMeasurement{
			// Null validity counts as valid; only the explicit -1 flag drops a row.
			Valid:   r.Validity == nil || *r.Validity != invalidValidity,
			AggType: domain.AggregationDay,
		}
		if r.Pollutant != nil {
			m.PollutantID = *r.Pollutant
			m.HasPollutant = true
		}
		if r.Start != nil {
			m.Start = r.Start.UTC()
		}
		if r.Value != nil {
			m.Value = *r.Value
			m.HasValue = true
		}
		if r.Unit != nil {
			m.Unit = *r.Unit
		}
		if r.AggType != nil {
			m.AggType = domain.Aggregation(*r.AggType)
		}
		out = append(out, m)
	}
	return out, nil
}
