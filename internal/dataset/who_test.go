package dataset_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
	"github.com/openairdata/enviro-etl/internal/dataset"
)

type fakeWHOStore struct {
	loaded bool
	rows   []warehouse.HealthRate
}

func (f *fakeWHOStore) HasHealthRates(ctx context.Context) (bool, error) {
	return f.loaded, nil
}

func (f *fakeWHOStore) InsertHealthRates(ctx context.Context, rows []warehouse.HealthRate) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func writeWHOFixture(t *testing.T, dataRows ...string) string {
	t.Helper()
	var b strings.Builder
	for n := 0; n < 26; n++ {
		b.WriteString("HFA-DB export banner line\n")
	}
	for _, row := range dataRows {
		b.WriteString(row + "\n")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HFA_221_EN.csv"), []byte(b.String()), 0o644))
	return dir
}

func TestWHOImporter_LoadsRates(t *testing.T) {
	dir := writeWHOFixture(t,
		"DEU,EU_MEMBERS,ALL,2000,45.3",
		"DEU,EU_MEMBERS,ALL,2001,44.1",
		"FRA,EU_MEMBERS,ALL,2000,",     // missing rate
		"NLD,EU_MEMBERS,ALL,,38.2",     // missing year
		",EU_MEMBERS,ALL,2000,21.7",    // missing country
		"ITA,EU_MEMBERS,ALL,2002,51.9")

	store := &fakeWHOStore{}
	imp := dataset.NewWHOImporter(dir, store, testLogger())
	require.NoError(t, imp.Run(context.Background()))

	assert.Equal(t, []warehouse.HealthRate{
		{CountryCode: "DEU", Year: 2000, Rate: 45.3},
		{CountryCode: "DEU", Year: 2001, Rate: 44.1},
		{CountryCode: "ITA", Year: 2002, Rate: 51.9},
	}, store.rows)
}

func TestWHOImporter_SkipsWhenLoaded(t *testing.T) {
	dir := writeWHOFixture(t, "DEU,EU_MEMBERS,ALL,2000,45.3")

	store := &fakeWHOStore{loaded: true}
	imp := dataset.NewWHOImporter(dir, store, testLogger())
	require.NoError(t, imp.Run(context.Background()))
	assert.Empty(t, store.rows)
}

func TestWHOImporter_MissingFile(t *testing.T) {
	imp := dataset.NewWHOImporter(t.TempDir(), &fakeWHOStore{}, testLogger())
	require.Error(t, imp.Run(context.Background()))
}
