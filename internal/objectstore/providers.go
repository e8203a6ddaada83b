package objectstore

import (
	"fmt"
	"net/url"
	"strings"
)

// ProviderConfig describes one known S3-compatible provider's connection
// quirks: default endpoint, region requirements, and addressing style.
type ProviderConfig struct {
	Name              string
	DefaultEndpoint   string
	RequiresRegion    bool
	RequiresPathStyle bool
	DefaultRegion     string
	EndpointTemplate  string
}

// KnownProviders mirrors the teacher's provider table, narrowed to the
// backends the chunk store actually targets.
var KnownProviders = map[string]ProviderConfig{
	"aws": {
		Name:            "AWS S3",
		DefaultEndpoint: "https://s3.amazonaws.com",
		RequiresRegion:  true,
		DefaultRegion:   "us-east-1",
	},
	"minio": {
		Name:              "MinIO",
		DefaultEndpoint:   "http://localhost:9000",
		RequiresPathStyle: true,
		DefaultRegion:     "us-east-1",
	},
	"wasabi": {
		Name:            "Wasabi",
		DefaultEndpoint: "https://s3.wasabisys.com",
		RequiresRegion:  true,
		DefaultRegion:   "us-east-1",
	},
	"backblaze": {
		Name:              "Backblaze B2",
		DefaultEndpoint:   "https://s3.us-west-000.backblazeb2.com",
		RequiresRegion:    true,
		RequiresPathStyle: true,
		DefaultRegion:     "us-west-000",
		EndpointTemplate:  "https://s3.%s.backblazeb2.com",
	},
	"digitalocean": {
		Name:             "DigitalOcean Spaces",
		DefaultEndpoint:  "https://nyc3.digitaloceanspaces.com",
		RequiresRegion:   true,
		DefaultRegion:    "nyc3",
		EndpointTemplate: "https://%s.digitaloceanspaces.com",
	},
	"generic": {
		Name:              "Generic S3-compatible",
		RequiresPathStyle: true,
	},
}

// GetProviderConfig returns the configuration for a provider name, case
// insensitively.
func GetProviderConfig(provider string) (ProviderConfig, error) {
	if provider == "" {
		return ProviderConfig{}, fmt.Errorf("objectstore: provider name is required")
	}
	cfg, ok := KnownProviders[strings.ToLower(provider)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("objectstore: unknown provider %q (supported: %s)",
			provider, strings.Join(providerNames(), ", "))
	}
	return cfg, nil
}

func providerNames() []string {
	names := make([]string, 0, len(KnownProviders))
	for name := range KnownProviders {
		names = append(names, name)
	}
	return names
}

// RequiresPathStyleAddressing reports whether provider needs path-style
// bucket addressing rather than virtual-hosted.
func RequiresPathStyleAddressing(provider string) bool {
	cfg, err := GetProviderConfig(provider)
	if err != nil {
		return false
	}
	return cfg.RequiresPathStyle
}

// ValidateEndpoint checks that a user-supplied endpoint override is
// well-formed.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("objectstore: invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("objectstore: endpoint must use http:// or https:// scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("objectstore: endpoint must include a hostname")
	}
	return nil
}
