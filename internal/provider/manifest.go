// Package provider implements the password channel: discovery of a
// provider's password service from its manifest, the gRPC password-vending
// contract, and a reference provider server.
package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file a provider places at the root of the document
// tree it serves.
const ManifestName = "keyshare-provider.yaml"

// Service is one service a provider exposes for the resources under its
// manifest.
type Service struct {
	Name      string `yaml:"name"`
	Interface string `yaml:"interface"`
	Endpoint  string `yaml:"endpoint"`
	Provider  string `yaml:"-"`
}

// Manifest is the parsed provider manifest.
type Manifest struct {
	Provider string    `yaml:"provider"`
	Services []Service `yaml:"services"`
}

// ServicesFor returns the services associated with the resource at locator,
// in manifest order. The nearest manifest in the resource's directory or any
// parent wins. A resource with no manifest has no services.
func ServicesFor(locator string) ([]Service, error) {
	abs, err := filepath.Abs(locator)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", locator, err)
	}
	dir := filepath.Dir(abs)
	for {
		path := filepath.Join(dir, ManifestName)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			return parseManifest(data, dir)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reading provider manifest %s: %w", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			slog.Debug("no provider manifest found", "locator", locator)
			return nil, nil
		}
		dir = parent
	}
}

func parseManifest(data []byte, dir string) ([]Service, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing provider manifest in %s: %w", dir, err)
	}
	services := make([]Service, 0, len(m.Services))
	for _, svc := range m.Services {
		svc.Provider = m.Provider
		svc.Endpoint = resolveEndpoint(svc.Endpoint, dir)
		services = append(services, svc)
	}
	return services, nil
}

// resolveEndpoint makes relative unix socket paths relative to the manifest
// directory.
func resolveEndpoint(endpoint, dir string) string {
	path, ok := strings.CutPrefix(endpoint, "unix://")
	if !ok {
		path, ok = strings.CutPrefix(endpoint, "unix:")
	}
	if !ok || filepath.IsAbs(path) {
		return endpoint
	}
	return "unix://" + filepath.Join(dir, path)
}

// Match returns the first service exposing the password-vending interface.
// Later matches are ignored.
func Match(services []Service) (Service, error) {
	for i, svc := range services {
		if svc.Interface != ServiceName {
			continue
		}
		if extra := countMatches(services[i+1:]); extra > 0 {
			slog.Debug("ignoring additional password services", "provider", svc.Provider, "selected", svc.Name, "ignored", extra)
		}
		return svc, nil
	}
	return Service{}, ErrNoService
}

func countMatches(services []Service) int {
	n := 0
	for _, svc := range services {
		if svc.Interface == ServiceName {
			n++
		}
	}
	return n
}

// WriteManifest writes m as the provider manifest of dir.
func WriteManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding provider manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing provider manifest %s: %w", path, err)
	}
	return nil
}
