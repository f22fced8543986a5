package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openairdata/enviro-etl/internal/domain"
)

// CatalogAPI is the discovery surface of the EEA downloads API.
type CatalogAPI interface {
	Countries(ctx context.Context) ([]domain.Country, error)
	Cities(ctx context.Context, countryCode string) ([]domain.City, error)
}

// Catalog enumerates every (country, city) pair currently published.
type Catalog struct {
	api    CatalogAPI
	logger *slog.Logger
}

// NewCatalog creates the catalog discoverer.
func NewCatalog(api CatalogAPI, logger *slog.Logger) *Catalog {
	return &Catalog{api: api, logger: logger}
}

// Locations builds the cross product of countries and their cities. A
// failed country fetch aborts the run, since nothing downstream can proceed
// without the catalog; a failed city fetch only skips that country.
func (c *Catalog) Locations(ctx context.Context) ([]domain.Location, error) {
	countries, err := c.api.Countries(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch country catalog: %w", err)
	}

	var locations []domain.Location
	for _, country := range countries {
		cities, err := c.api.Cities(ctx, country.Code)
		if err != nil {
			c.logger.Warn("city catalog fetch failed, skipping country",
				"country", country.Code, "error", err)
			continue
		}
		for _, city := range cities {
			locations = append(locations, domain.Location{
				CountryCode: country.Code,
				CountryName: country.Name,
				CityName:    city.Name,
			})
		}
	}

	c.logger.Info("catalog discovered", "countries", len(countries), "locations", len(locations))
	return locations, nil
}
