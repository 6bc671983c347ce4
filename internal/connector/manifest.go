package connector

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/courier/internal/command"
)

// Capabilities lists the command types a connector can run. The single
// entry "*" means every known type.
type Capabilities []command.Type

func (c *Capabilities) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("commands must be a sequence")
	}

	out := make([]command.Type, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("invalid command entry (must be a string)")
		}
		name := strings.TrimSpace(item.Value)
		if name == "*" {
			out = append(out, command.Type(name))
			continue
		}
		t, err := command.ParseType(name)
		if err != nil {
			return err
		}
		out = append(out, t)
	}
	*c = out
	return nil
}

// Manifest is the manifest.yaml shipped next to a connector executable.
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Protocol    int          `yaml:"protocol"`
	Entrypoint  string       `yaml:"entrypoint"`
	Origin      string       `yaml:"origin"` // twitter | pumpio | activitypub | gnusocial | ...
	Description string       `yaml:"description,omitempty"`
	Commands    Capabilities `yaml:"commands"`
}

// Connector is a discovered and validated connector.
type Connector struct {
	Name        string
	Path        string // connector directory
	Entrypoint  string // absolute path to the executable
	Protocol    int
	Version     string
	Origin      string
	Description string
	Commands    Capabilities
}

// Supports reports whether the connector declared t.
func (c *Connector) Supports(t command.Type) bool {
	if slices.Contains(c.Commands, command.Type("*")) {
		return t.Known()
	}
	return slices.Contains(c.Commands, t)
}
