package connector

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/protocol"
)

const manifestFilename = "manifest.yaml"

// Registry holds discovered connectors indexed by name.
type Registry struct {
	connectors map[string]*Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]*Connector)}
}

func (r *Registry) Get(name string) (*Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

// Names returns the registered connector names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Add(c *Connector) error {
	if _, exists := r.connectors[c.Name]; exists {
		return fmt.Errorf("connector %q already registered", c.Name)
	}
	r.connectors[c.Name] = c
	return nil
}

// Discover scans root for manifest.yaml files. Invalid connectors are
// logged and skipped; duplicate names keep the first one found.
func Discover(root string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.WithComponent("connector")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("connectors directory is empty")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connectors directory %q: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("connectors directory does not exist: %s", absRoot)
		}
		return nil, fmt.Errorf("failed to stat connectors directory %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("connectors directory is not a directory: %s", absRoot)
	}

	registry := NewRegistry()
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != manifestFilename {
			return nil
		}

		dir := filepath.Dir(path)
		c, err := loadConnector(dir, absRoot)
		if err != nil {
			logger.Warn("failed to load connector", "path", dir, "error", err)
			return nil
		}
		if err := registry.Add(c); err != nil {
			existing, _ := registry.Get(c.Name)
			logger.Warn("duplicate connector ignored (keeping first discovered)",
				"connector", c.Name, "ignored_path", c.Path, "kept_path", existing.Path)
			return nil
		}
		logger.Info("loaded connector", "connector", c.Name, "origin", c.Origin, "version", c.Version, "commands", len(c.Commands))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan connectors directory %s: %w", absRoot, err)
	}
	return registry, nil
}

func loadConnector(dir, root string) (*Connector, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	entrypoint := filepath.Join(dir, m.Entrypoint)
	if err := validateTrust(entrypoint, dir, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	return &Connector{
		Name:        m.Name,
		Path:        dir,
		Entrypoint:  entrypoint,
		Protocol:    m.Protocol,
		Version:     m.Version,
		Origin:      m.Origin,
		Description: m.Description,
		Commands:    m.Commands,
	}, nil
}

func validateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Protocol == 0 {
		return fmt.Errorf("protocol version is required")
	}
	if m.Protocol != protocol.Version {
		return fmt.Errorf("unsupported protocol version %d (supported: %d)", m.Protocol, protocol.Version)
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if strings.Contains(m.Entrypoint, "..") {
		return fmt.Errorf("entrypoint contains path traversal: %s", m.Entrypoint)
	}
	if strings.TrimSpace(m.Origin) == "" {
		return fmt.Errorf("origin is required")
	}
	if len(m.Commands) == 0 {
		return fmt.Errorf("at least one command must be declared")
	}
	return nil
}

// validateTrust checks the entrypoint is an executable inside the
// connector directory, under root, and the directory is not world-writable.
func validateTrust(entrypoint, dir, root string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypoint)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve connector path symlink: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve connectors directory symlink: %w", err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(resolvedEntrypoint, resolvedRoot+sep) {
		return fmt.Errorf("entrypoint %s is not under connectors directory", resolvedEntrypoint)
	}
	if !strings.HasPrefix(resolvedEntrypoint, resolvedDir+sep) {
		return fmt.Errorf("entrypoint %s is not under connector directory %s", resolvedEntrypoint, resolvedDir)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	dirInfo, err := os.Stat(resolvedDir)
	if err != nil {
		return fmt.Errorf("connector directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("connector directory is world-writable: %s", resolvedDir)
	}
	return nil
}
