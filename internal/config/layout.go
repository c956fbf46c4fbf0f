package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/citygrid/trafficsim/pkg/core"
)

//go:embed city_layout.schema.json
var layoutSchemaJSON string

var layoutSchema = jsonschema.MustCompileString("city_layout.schema.json", layoutSchemaJSON)

// DefaultExchange is used when the layout document omits an exchange name.
const DefaultExchange = "city_migrations_exchange"

// LoadCityLayout reads, validates, and decodes a city layout document.
// JSON and YAML are accepted, keyed off the file extension. Any schema or
// referential error is returned as-is; callers treat it as fatal.
func LoadCityLayout(path string) (*core.City, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading city layout: %w", err)
	}

	// Normalize YAML to JSON so one schema covers both formats.
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parsing city layout YAML: %w", err)
		}
		raw, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("normalizing city layout YAML: %w", err)
		}
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing city layout: %w", err)
	}
	if err := layoutSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("city layout failed schema validation: %w", err)
	}

	var city core.City
	if err := json.Unmarshal(raw, &city); err != nil {
		return nil, fmt.Errorf("decoding city layout: %w", err)
	}
	if city.Exchange == "" {
		city.Exchange = DefaultExchange
	}

	if err := validateLayout(&city); err != nil {
		return nil, err
	}
	return &city, nil
}

// validateLayout enforces referential rules the schema cannot express.
func validateLayout(city *core.City) error {
	seen := make(map[string]bool, len(city.Zones))
	for _, z := range city.Zones {
		if seen[z.ID] {
			return fmt.Errorf("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = true
	}
	for _, z := range city.Zones {
		for _, adj := range z.Adjacent {
			if !seen[adj] {
				return fmt.Errorf("zone %q lists unknown adjacent zone %q", z.ID, adj)
			}
			if adj == z.ID {
				return fmt.Errorf("zone %q lists itself as adjacent", z.ID)
			}
		}
	}
	return nil
}
