package ingestconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evalgo-org/docingest/internal/cerrors"
	"github.com/evalgo-org/docingest/internal/fingerprint"
)

// RunConfig is the on-disk shape of the --config file: the fingerprinted
// subset of configuration plus sources, YAML because this codebase already
// carries gopkg.in/yaml.v3 for config files sibling to this one.
type RunConfig struct {
	Sources               []fingerprint.Source `yaml:"sources"`
	EmbeddingProvider     string                `yaml:"embedding_provider"`
	EmbeddingModel        string                `yaml:"embedding_model"`
	EmbeddingDimensions   int                   `yaml:"embedding_dimensions"`
	OntologyIDs           []string              `yaml:"ontology_ids"`
	OntologyVersions      map[string]string     `yaml:"ontology_versions"`
	RelationshipDetection bool                  `yaml:"relationship_detection"`
	StorageTarget         string                `yaml:"storage_target"`
}

// LoadRunConfig reads and parses path into a fingerprint.Input. Parse or
// read failures are ConfigInvalid: they fail before any run is created.
func LoadRunConfig(path string) (fingerprint.Input, error) {
	if path == "" {
		return fingerprint.Input{}, fmt.Errorf("%w: --config is required", cerrors.ErrConfigInvalid)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fingerprint.Input{}, fmt.Errorf("%w: reading %s: %v", cerrors.ErrConfigInvalid, path, err)
	}

	var rc RunConfig
	if err := yaml.Unmarshal(raw, &rc); err != nil {
		return fingerprint.Input{}, fmt.Errorf("%w: parsing %s: %v", cerrors.ErrConfigInvalid, path, err)
	}

	return fingerprint.Input{
		Sources:               rc.Sources,
		EmbeddingProvider:     rc.EmbeddingProvider,
		EmbeddingModel:        rc.EmbeddingModel,
		EmbeddingDimensions:   rc.EmbeddingDimensions,
		OntologyIDs:           rc.OntologyIDs,
		OntologyVersions:      rc.OntologyVersions,
		RelationshipDetection: rc.RelationshipDetection,
		StorageTarget:         rc.StorageTarget,
	}, nil
}
