package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"nutsdispatch/internal/model"
)

// Fixtures is a complete snapshot in YAML form, used to seed the memory
// store and local SQLite databases.
type Fixtures struct {
	Works          []model.Work          `yaml:"works"`
	Inspectors     []model.Inspector     `yaml:"inspectors"`
	Availability   []model.Availability  `yaml:"availability"`
	ImpactProfiles []model.ImpactProfile `yaml:"impactProfiles"`
}

// LoadFixtures reads a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FixturesFromYAML(data)
}

func FixturesFromYAML(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid fixtures yaml: %w", err)
	}
	return &f, nil
}

// Apply writes the fixtures through any Loader.
func (f *Fixtures) Apply(ctx context.Context, l Loader) error {
	if err := l.UpsertWorks(ctx, f.Works); err != nil {
		return fmt.Errorf("load works: %w", err)
	}
	if err := l.PutRoster(ctx, f.Inspectors); err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	for _, a := range f.Availability {
		if err := l.SetAvailability(ctx, a); err != nil {
			return fmt.Errorf("load availability %s: %w", a.Date, err)
		}
	}
	if err := l.UpsertImpactProfiles(ctx, f.ImpactProfiles); err != nil {
		return fmt.Errorf("load impact profiles: %w", err)
	}
	return nil
}
