package backup

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the metadata file stored inside every backup.
const ManifestName = "manifest.yml"

// Manifest for a backup run
type Manifest struct {
	// Version of backup layout
	Version int `yaml:"version"`
	// Timestamp of backup creation
	Timestamp time.Time `yaml:"timestamp"`

	Host string `yaml:"host"`
	User string `yaml:"user"`

	// ServiceStatus is the compose ps snapshot taken during the run
	ServiceStatus string `yaml:"service_status,omitempty"`

	// Contents lists the artifacts bundled into the backup
	Contents []string `yaml:"contents"`
}

// WriteManifest to path
func WriteManifest(path string, manifest *Manifest) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer file.Close()

	if err := yaml.NewEncoder(file).Encode(manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return file.Close()
}

// ReadManifest from path
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
