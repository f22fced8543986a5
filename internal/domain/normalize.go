package domain

import (
	"errors"
	"sort"
	"time"
)

// ErrMixedPollutants reports a measurement file whose rows disagree on the
// pollutant id. Files are expected to be single-pollutant; tagging every row
// with the first id would silently mislabel the rest.
var ErrMixedPollutants = errors.New("measurement file contains multiple pollutant ids")

// Normalize turns the raw observations of one measurement file into daily
// warehouse rows. The stages run in fixed order:
//
//  1. drop observations flagged invalid
//  2. if any observation is hourly, aggregate everything to calendar days
//     (first pollutant, mean value, first unit per day)
//  3. drop observations left without a pollutant id or value
//  4. resolve the recommended unit and chemical code from the pollutant id
//  5. drop observations with an unresolvable unit or a negative value
//
// An empty result is normal (nothing to load), not an error. CityID on the
// returned rows is zero; the caller attaches it after resolving the owning
// city.
func Normalize(records []RawMeasurement, vocab *Vocabulary) ([]Measurement, error) {
	valid := records[:0:0]
	for _, r := range records {
		if r.Valid {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	if hasHourly(valid) {
		valid = aggregateDaily(valid)
	}

	rows := valid[:0:0]
	for _, r := range valid {
		if r.HasPollutant && r.HasValue {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	pollutantID := rows[0].PollutantID
	for _, r := range rows[1:] {
		if r.PollutantID != pollutantID {
			return nil, ErrMixedPollutants
		}
	}

	// The file-level pollutant id drives both resolutions. A missing chemical
	// code drops the whole file; a missing recommended unit only drops rows
	// whose own unit column is empty.
	chemicalCode, ok := vocab.ChemicalCode(pollutantID)
	if !ok {
		return nil, nil
	}
	recommendedUnit, hasRecommended := vocab.RecommendedUnit(pollutantID)

	out := make([]Measurement, 0, len(rows))
	for _, r := range rows {
		unit := r.Unit
		if unit == "" {
			if !hasRecommended {
				continue
			}
			unit = recommendedUnit
		}
		if r.Value < 0 {
			continue
		}
		out = append(out, Measurement{
			Date:         r.Start,
			Value:        r.Value,
			UnitCode:     unit,
			ChemicalCode: chemicalCode,
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func hasHourly(records []RawMeasurement) bool {
	for _, r := range records {
		if r.AggType == AggregationHour {
			return true
		}
	}
	return false
}

// dayBucket accumulates one calendar day's observations during re-aggregation.
type dayBucket struct {
	pollutantID  int64
	hasPollutant bool
	unit         string
	aggType      Aggregation
	sum          float64
	count        int
}

// aggregateDaily groups observations by UTC calendar day, keeping the first
// pollutant id and unit seen per day and averaging the values. Days whose
// observations all lack a value produce a row without one, dropped by the
// next stage.
func aggregateDaily(records []RawMeasurement) []RawMeasurement {
	buckets := make(map[time.Time]*dayBucket)
	for _, r := range records {
		day := r.Start.UTC().Truncate(24 * time.Hour)
		b, ok := buckets[day]
		if !ok {
			b = &dayBucket{aggType: r.AggType}
			buckets[day] = b
		}
		if !b.hasPollutant && r.HasPollutant {
			b.pollutantID = r.PollutantID
			b.hasPollutant = true
		}
		if b.unit == "" {
			b.unit = r.Unit
		}
		if r.HasValue {
			b.sum += r.Value
			b.count++
		}
	}

	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]RawMeasurement, 0, len(buckets))
	for _, day := range days {
		b := buckets[day]
		r := RawMeasurement{
			PollutantID:  b.pollutantID,
			HasPollutant: b.hasPollutant,
			Start:        day,
			Unit:         b.unit,
			AggType:      AggregationDay,
			Valid:        true,
		}
		if b.count > 0 {
			r.Value = b.sum / float64(b.count)
			r.HasValue = true
		}
		out = append(out, r)
	}
	return out
}
