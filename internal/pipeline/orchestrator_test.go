package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairdata/enviro-etl/internal/adapter/staging"
	"github.com/openairdata/enviro-etl/internal/adapter/warehouse"
	"github.com/openairdata/enviro-etl/internal/domain"
	"github.com/openairdata/enviro-etl/internal/observability"
	"github.com/openairdata/enviro-etl/internal/pipeline"
)

// fakeWarehouse implements both the reference and measurement store
// surfaces and records the call order.
type fakeWarehouse struct {
	mu    sync.Mutex
	calls []string

	existingCities    map[warehouse.City]struct{}
	existingChemicals map[string]struct{}
	existingUnits     map[string]struct{}
	cityIDs           map[string]int64

	insertCitiesErr error

	cities       []warehouse.City
	chemicals    []domain.Chemical
	units        []domain.MeasureUnit
	measurements []domain.Measurement
}

func (f *fakeWarehouse) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeWarehouse) CityKeys(ctx context.Context) (map[warehouse.City]struct{}, error) {
	f.record("CityKeys")
	if f.existingCities == nil {
		return map[warehouse.City]struct{}{}, nil
	}
	return f.existingCities, nil
}

func (f *fakeWarehouse) InsertCities(ctx context.Context, rows []warehouse.City) error {
	f.record("InsertCities")
	if f.insertCitiesErr != nil {
		return f.insertCitiesErr
	}
	f.cities = append(f.cities, rows...)
	return nil
}

func (f *fakeWarehouse) DistinctChemicalCodes(ctx context.Context) (map[string]struct{}, error) {
	f.record("DistinctChemicalCodes")
	return f.existingChemicals, nil
}

func (f *fakeWarehouse) InsertChemicals(ctx context.Context, rows []domain.Chemical) error {
	f.record("InsertChemicals")
	f.chemicals = append(f.chemicals, rows...)
	return nil
}

func (f *fakeWarehouse) DistinctMeasureUnitCodes(ctx context.Context) (map[string]struct{}, error) {
	f.record("DistinctMeasureUnitCodes")
	return f.existingUnits, nil
}

func (f *fakeWarehouse) InsertMeasureUnits(ctx context.Context, rows []domain.MeasureUnit) error {
	f.record("InsertMeasureUnits")
	f.units = append(f.units, rows...)
	return nil
}

func (f *fakeWarehouse) CityID(ctx context.Context, name, countryCode string) (int64, bool, error) {
	f.record("CityID")
	id, ok := f.cityIDs[name+"/"+countryCode]
	return id, ok, nil
}

func (f *fakeWarehouse) InsertMeasurements(ctx context.Context, rows []domain.Measurement) error {
	f.record("InsertMeasurements")
	f.measurements = append(f.measurements, rows...)
	return nil
}

func newTestOrchestrator(t *testing.T, catalogAPI pipeline.CatalogAPI, manifests pipeline.ManifestSource, store *fakeWarehouse) *pipeline.Orchestrator {
	t.Helper()
	tree := staging.NewTree(t.TempDir())
	logger := testLogger()
	metrics := observability.NewMetricsForTesting()
	vocab := normalizeVocab()
	units := []domain.MeasureUnit{
		{Code: "ug.m-3", Name: "ug.m-3", Description: "microgram per cubic metre"},
		{Code: "mg.m-3", Name: "mg.m-3", Description: "milligram per cubic metre"},
	}

	return pipeline.NewOrchestrator(
		pipeline.NewCatalog(catalogAPI, logger),
		pipeline.NewLinkFetcher(manifests, tree, logger, metrics, 0),
		pipeline.NewDownloader(tree, 2, 5*time.Second, logger, metrics),
		pipeline.NewNormalizer(tree, vocab, store, 2, logger, metrics),
		vocab,
		units,
		store,
		[]domain.Dataset{domain.Dataset1},
		logger,
		metrics,
	)
}

func TestOrchestratorRun_EndToEnd(t *testing.T) {
	// Serve a real parquet fixture for the download stage.
	fixture := filepath.Join(t.TempDir(), "fixture.parquet")
	day := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	writeParquet(t, fixture, []parquetRow{
		dailyRow(day, 8, 41.5, 1),
		dailyRow(day.AddDate(0, 0, 1), 8, 38.0, 1),
	})
	payload, err := os.ReadFile(fixture)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	catalogAPI := &fakeCatalogAPI{
		countries: []domain.Country{{Code: "DE", Name: "Germany"}},
		cities:    map[string][]domain.City{"DE": {{Name: "Berlin"}}},
	}
	manifests := &fakeManifestSource{respond: func(manifestCall) ([]byte, error) {
		return []byte("ParquetFileUrl\n" + srv.URL + "/pq/E1a/DE_berlin.parquet\n"), nil
	}}
	store := &fakeWarehouse{
		existingChemicals: map[string]struct{}{"PM10": {}},
		existingUnits:     map[string]struct{}{"mg.m-3": {}},
		cityIDs:           map[string]int64{"Berlin/DEU": 42},
	}

	o := newTestOrchestrator(t, catalogAPI, manifests, store)
	require.Error(t, o.CheckReadiness(context.Background()))
	require.NoError(t, o.Run(context.Background()))
	assert.NoError(t, o.CheckReadiness(context.Background()))

	// Reference loads are filtered against what the warehouse already has.
	assert.Equal(t, []warehouse.City{{Name: "Berlin", CountryCode: "DEU"}}, store.cities)
	require.Len(t, store.chemicals, 1)
	assert.Equal(t, "NO2", store.chemicals[0].Code)
	require.Len(t, store.units, 1)
	assert.Equal(t, "ug.m-3", store.units[0].Code)

	require.Len(t, store.measurements, 2)
	for _, m := range store.measurements {
		assert.Equal(t, int64(42), m.CityID)
		assert.Equal(t, "NO2", m.ChemicalCode)
	}

	assert.Equal(t, []string{
		"CityKeys", "InsertCities",
		"DistinctChemicalCodes", "InsertChemicals",
		"DistinctMeasureUnitCodes", "InsertMeasureUnits",
		"CityID", "InsertMeasurements",
	}, store.calls)
}

func TestOrchestratorRun_CatalogFailureAborts(t *testing.T) {
	catalogAPI := &fakeCatalogAPI{countriesErr: errors.New("api down")}
	manifests := &fakeManifestSource{respond: func(manifestCall) ([]byte, error) {
		return fullManifest, nil
	}}
	store := &fakeWarehouse{}

	o := newTestOrchestrator(t, catalogAPI, manifests, store)
	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.calls)
	assert.Empty(t, manifests.calls)
	assert.Error(t, o.CheckReadiness(context.Background()))
}

func TestOrchestratorRun_ReferenceLoadFailureDoesNotStopIngestion(t *testing.T) {
	catalogAPI := &fakeCatalogAPI{
		countries: []domain.Country{{Code: "DE", Name: "Germany"}},
		cities:    map[string][]domain.City{"DE": {{Name: "Berlin"}}},
	}
	manifests := &fakeManifestSource{respond: func(manifestCall) ([]byte, error) {
		return emptyManifest, nil
	}}
	store := &fakeWarehouse{insertCitiesErr: errors.New("connection reset")}

	o := newTestOrchestrator(t, catalogAPI, manifests, store)
	require.NoError(t, o.Run(context.Background()))

	// Discovery still ran for the staged location.
	assert.NotEmpty(t, manifests.calls)
}

func TestOrchestrator_SkipsLocationsWithoutISO3(t *testing.T) {
	catalogAPI := &fakeCatalogAPI{
		countries: []domain.Country{
			{Code: "DE", Name: "Germany"},
			{Code: "XX", Name: "Nowhere"},
		},
		cities: map[string][]domain.City{
			"DE": {{Name: "Berlin"}},
			"XX": {{Name: "Erewhon"}},
		},
	}
	manifests := &fakeManifestSource{respond: func(manifestCall) ([]byte, error) {
		return emptyManifest, nil
	}}
	store := &fakeWarehouse{}

	o := newTestOrchestrator(t, catalogAPI, manifests, store)
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, []warehouse.City{{Name: "Berlin", CountryCode: "DEU"}}, store.cities)
}

func TestSelectedDatasets(t *testing.T) {
	cases := []struct {
		name                             string
		unverified, verified, historical bool
		want                             []domain.Dataset
	}{
		{"all", true, true, true, []domain.Dataset{domain.Dataset1, domain.Dataset2, domain.Dataset3}},
		{"default", true, false, false, []domain.Dataset{domain.Dataset1}},
		{"verified only", false, true, false, []domain.Dataset{domain.Dataset2}},
		{"none", false, false, false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pipeline.SelectedDatasets(tc.unverified, tc.verified, tc.historical))
		})
	}
}
