package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed bundled.yaml
var bundledYAML []byte

// bundledDocument mirrors the top-level shape of bundled.yaml.
type bundledDocument struct {
	Models map[string]Descriptor `yaml:"models"`
}

// loadBundled decodes the embedded catalog once at process startup.
func loadBundled() (map[string]Descriptor, error) {
	var doc bundledDocument
	if err := yaml.Unmarshal(bundledYAML, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode bundled catalog: %w", err)
	}
	out := make(map[string]Descriptor, len(doc.Models))
	for name, d := range doc.Models {
		d.Name = name
		d.Source = SourceCatalog
		out[name] = d
	}
	return out, nil
}
