package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"buildwatch-agent/src/cachekey"
	"buildwatch-agent/src/provider"
)

// ServersFile is the layout of the servers YAML file.
type ServersFile struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig describes one CI server to synchronize.
type ServerConfig struct {
	ID            string  `yaml:"id"`
	Provider      string  `yaml:"provider"`
	BaseURL       string  `yaml:"base_url"`
	Owner         string  `yaml:"owner"`
	Repo          string  `yaml:"repo"`
	Org           string  `yaml:"org"`
	Pipeline      string  `yaml:"pipeline"`
	Project       string  `yaml:"project"`
	TokenEnv      string  `yaml:"token_env"`
	DefaultBranch string  `yaml:"default_branch"`
	Mask          uint16  `yaml:"mask"`
	Watch         []Watch `yaml:"watch"`
}

// Watch is a build type and branch whose history is scanned for issues.
type Watch struct {
	BuildType string `yaml:"build_type"`
	Branch    string `yaml:"branch"`
}

var defaultTokenEnv = map[string]string{
	"buildkite": "BUILDKITE_API_TOKEN",
	"github":    "GITHUB_TOKEN",
	"gitlab":    "GITLAB_TOKEN",
}

// LoadServers reads and validates the servers file.
func LoadServers(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	return ParseServers(data)
}

// ParseServers decodes and validates servers YAML.
func ParseServers(data []byte) ([]ServerConfig, error) {
	var file ServersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	if len(file.Servers) == 0 {
		return nil, fmt.Errorf("servers file lists no servers")
	}

	seen := make(map[string]bool)
	for i := range file.Servers {
		s := &file.Servers[i]
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("server %d (%s): %w", i, s.ID, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate server id %q", s.ID)
		}
		seen[s.ID] = true

		if s.TokenEnv == "" {
			s.TokenEnv = defaultTokenEnv[s.Provider]
		}
		for j := range s.Watch {
			if s.Watch[j].Branch == "" {
				s.Watch[j].Branch = provider.DefaultBranch
			}
		}
	}

	return file.Servers, nil
}

func (s *ServerConfig) validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}

	switch s.Provider {
	case "github":
		if s.Owner == "" || s.Repo == "" {
			return fmt.Errorf("github needs owner and repo")
		}
	case "buildkite":
		if s.Org == "" || s.Pipeline == "" {
			return fmt.Errorf("buildkite needs org and pipeline")
		}
	case "gitlab":
		if s.Project == "" {
			return fmt.Errorf("gitlab needs project")
		}
	default:
		return fmt.Errorf("%w: %q", provider.ErrProviderUnknown, s.Provider)
	}

	for _, w := range s.Watch {
		if w.BuildType == "" {
			return fmt.Errorf("watch entries need build_type")
		}
	}
	return nil
}

// CacheMask returns the configured key mask, or one derived from the id.
func (s ServerConfig) CacheMask() uint16 {
	if s.Mask != 0 {
		return s.Mask
	}
	return cachekey.ServerMask(s.ID)
}

// Spec resolves the server into a provider spec, reading the token from TokenEnv.
func (s ServerConfig) Spec() provider.ServerSpec {
	var token string
	if s.TokenEnv != "" {
		token = os.Getenv(s.TokenEnv)
	}
	return provider.ServerSpec{
		ID:            s.ID,
		Provider:      s.Provider,
		BaseURL:       s.BaseURL,
		Token:         token,
		Owner:         s.Owner,
		Repo:          s.Repo,
		Org:           s.Org,
		Pipeline:      s.Pipeline,
		Project:       s.Project,
		DefaultBranch: s.DefaultBranch,
	}
}
