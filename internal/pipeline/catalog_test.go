package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairdata/enviro-etl/internal/domain"
	"github.com/openairdata/enviro-etl/internal/pipeline"
)

type fakeCatalogAPI struct {
	countries    []domain.Country
	countriesErr error
	cities       map[string][]domain.City
	cityErrs     map[string]error
}

func (f *fakeCatalogAPI) Countries(ctx context.Context) ([]domain.Country, error) {
	return f.countries, f.countriesErr
}

func (f *fakeCatalogAPI) Cities(ctx context.Context, countryCode string) ([]domain.City, error) {
	if err := f.cityErrs[countryCode]; err != nil {
		return nil, err
	}
	return f.cities[countryCode], nil
}

func TestCatalogLocations_CrossProduct(t *testing.T) {
	api := &fakeCatalogAPI{
		countries: []domain.Country{
			{Code: "DE", Name: "Germany"},
			{Code: "NL", Name: "Netherlands"},
		},
		cities: map[string][]domain.City{
			"DE": {{Name: "Berlin"}, {Name: "Hamburg"}},
			"NL": {{Name: "Amsterdam"}},
		},
	}

	catalog := pipeline.NewCatalog(api, testLogger())
	locations, err := catalog.Locations(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.Location{
		{CountryCode: "DE", CountryName: "Germany", CityName: "Berlin"},
		{CountryCode: "DE", CountryName: "Germany", CityName: "Hamburg"},
		{CountryCode: "NL", CountryName: "Netherlands", CityName: "Amsterdam"},
	}, locations)
}

func TestCatalogLocations_CountryFetchFatal(t *testing.T) {
	api := &fakeCatalogAPI{countriesErr: errors.New("boom")}

	catalog := pipeline.NewCatalog(api, testLogger())
	_, err := catalog.Locations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "country catalog")
}

func TestCatalogLocations_CityFetchSkipsCountry(t *testing.T) {
	api := &fakeCatalogAPI{
		countries: []domain.Country{
			{Code: "DE", Name: "Germany"},
			{Code: "FR", Name: "France"},
		},
		cities: map[string][]domain.City{
			"DE": {{Name: "Berlin"}},
			"FR": {{Name: "Paris"}},
		},
		cityErrs: map[string]error{"DE": errors.New("unavailable")},
	}

	catalog := pipeline.NewCatalog(api, testLogger())
	locations, err := catalog.Locations(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.Location{
		{CountryCode: "FR", CountryName: "France", CityName: "Paris"},
	}, locations)
}
