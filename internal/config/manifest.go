package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jordigilh/ocpaggregator/internal/ocperrors"
)

// RunManifest is the declarative YAML alternative to setting run identity
// purely via environment variables. It carries an apiVersion/kind pair
// like a Kubernetes manifest and is validated against the fixed
// "ocpaggregator.io/v1" / "AggregationRun" values.
type RunManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		OrgID string `yaml:"orgID"`
	} `yaml:"metadata"`
	Spec struct {
		SourceUUID   string `yaml:"sourceUUID"`
		ClusterID    string `yaml:"clusterID"`
		ClusterAlias string `yaml:"clusterAlias"`
		Year         int    `yaml:"year"`
		Month        int    `yaml:"month"`
		Truncate     bool   `yaml:"truncate"`
	} `yaml:"spec"`
}

const (
	manifestAPIVersion = "ocpaggregator.io/v1"
	manifestKind       = "AggregationRun"
)

// LoadManifest reads and validates a run manifest file. A missing path is
// not an error — the manifest is optional — but a present-and-malformed
// file is a ConfigError.
func LoadManifest(path string) (*RunManifest, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ocperrors.NewConfig("failed to read run manifest "+path, err)
	}

	var m RunManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, ocperrors.NewConfig("invalid run manifest YAML in "+path, err)
	}
	if m.APIVersion != manifestAPIVersion {
		return nil, ocperrors.NewConfig(fmt.Sprintf("unsupported apiVersion %q (expected %q)", m.APIVersion, manifestAPIVersion), nil)
	}
	if m.Kind != manifestKind {
		return nil, ocperrors.NewConfig(fmt.Sprintf("unsupported kind %q (expected %q)", m.Kind, manifestKind), nil)
	}
	return &m, nil
}
