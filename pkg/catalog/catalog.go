package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
	"github.com/lemonade-sdk/lemonade-server/pkg/logging"
)

var log = logging.Component("catalog")

// PlatformInfo carries the subset of the backend detector's (C3) output the
// catalog needs to apply platform-availability filtering. It is a plain
// struct rather than an import of pkg/hwprobe so the two packages don't
// need to know about each other.
type PlatformInfo struct {
	GOOS               string
	GOARCH             string
	DarwinMajorVersion int
	RyzenAIRuntime     bool
	RyzenAINPU         bool
}

// UnsupportedPlatformError reports that no recipes in the catalog can run on
// the detected platform.
type UnsupportedPlatformError struct {
	Detail string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s", e.Detail)
}

// Catalog merges the bundled (read-only) descriptor map with user-registered
// descriptors, persisting the latter to userModelsPath.
type Catalog struct {
	mu             sync.RWMutex
	bundled        map[string]Descriptor
	user           map[string]Descriptor
	userModelsPath string
}

// userModelsDocument is the on-disk shape of user_models.json.
type userModelsDocument struct {
	Models map[string]Descriptor `json:"models"`
}

// Load builds a Catalog from the embedded bundled catalog and, if present,
// the user_models.json file at userModelsPath.
func Load(userModelsPath string) (*Catalog, error) {
	bundled, err := loadBundled()
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		bundled:        bundled,
		user:           make(map[string]Descriptor),
		userModelsPath: userModelsPath,
	}

	data, err := os.ReadFile(userModelsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("unable to read user models file: %w", err)
	}
	var doc userModelsDocument
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unable to parse user models file: %w", err)
		}
	}
	for name, d := range doc.Models {
		d.Name = name
		d.Source = SourceLocalUpload
		c.user[name] = d
	}
	return c, nil
}

// Lookup resolves name to its descriptor, checking user registrations
// first since they shadow nothing in the bundled set (names are disjoint by
// the user. prefix invariant).
func (c *Catalog) Lookup(name string) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if d, ok := c.user[name]; ok {
		return d, nil
	}
	if d, ok := c.bundled[name]; ok {
		return d, nil
	}
	return Descriptor{}, lemonadeerr.ErrModelNotFound
}

// All returns every descriptor in the merged catalog, bundled and user,
// without platform filtering.
func (c *Catalog) All() map[string]Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Descriptor, len(c.bundled)+len(c.user))
	for name, d := range c.bundled {
		out[name] = d
	}
	for name, d := range c.user {
		out[name] = d
	}
	return out
}

// FilterEnabled applies the platform-availability rules from the model
// catalog's design (macOS ARM64-only, macOS<14 rejected entirely, ryzenai-*
// and flm hidden absent the matching hardware) to All().
func (c *Catalog) FilterEnabled(platform PlatformInfo) (map[string]Descriptor, error) {
	all := c.All()

	if platform.GOOS == "darwin" {
		if platform.GOARCH != "arm64" {
			return nil, &UnsupportedPlatformError{Detail: "macOS requires Apple Silicon (arm64)"}
		}
		if platform.DarwinMajorVersion != 0 && platform.DarwinMajorVersion < 14 {
			return nil, &UnsupportedPlatformError{Detail: fmt.Sprintf("macOS %d is below the minimum supported version 14", platform.DarwinMajorVersion)}
		}
	}

	out := make(map[string]Descriptor, len(all))
	for name, d := range all {
		if platform.GOOS == "darwin" && d.Recipe != "llamacpp" {
			continue
		}
		if d.IsRyzenAI() && !platform.RyzenAIRuntime {
			continue
		}
		if d.IsFLM() && !platform.RyzenAINPU {
			continue
		}
		out[name] = d
	}
	return out, nil
}

// Register adds a user-namespaced descriptor; registering an identical
// descriptor again is a no-op. If a descriptor already exists under the same
// name with differing checkpoint, recipe, labels, or mmproj, registration
// fails with a ConflictError rather than silently overwriting it.
func (c *Catalog) Register(d Descriptor) error {
	if !IsUser(d.Name) {
		return fmt.Errorf("user model name %q must be prefixed %q", d.Name, UserNamePrefix)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.user[d.Name]; ok {
		if field := existing.Diff(d); field != "" {
			return &lemonadeerr.ConflictError{
				Name:  d.Name,
				Field: field,
				Want:  fmt.Sprintf("%+v", existing),
				Got:   fmt.Sprintf("%+v", d),
			}
		}
		return nil
	}

	d.Source = SourceLocalUpload
	c.user[d.Name] = d
	return c.persistLocked()
}

// Delete removes a user-registered descriptor. It is a no-op (returns
// lemonadeerr.ErrModelNotFound) if name isn't user-registered; bundled
// descriptors can never be deleted.
func (c *Catalog) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.user[name]; !ok {
		return lemonadeerr.ErrModelNotFound
	}
	delete(c.user, name)
	return c.persistLocked()
}

// persistLocked writes c.user to userModelsPath using a temp-then-rename
// write, matching the cache and recipe-options persistence idiom elsewhere
// in this module. Callers must hold c.mu.
func (c *Catalog) persistLocked() error {
	if c.userModelsPath == "" {
		return nil
	}

	doc := userModelsDocument{Models: c.user}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal user models: %w", err)
	}

	dir := filepath.Dir(c.userModelsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".user_models-*.json")
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.userModelsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("unable to rename temp file into place: %w", err)
	}
	log.WithField("path", c.userModelsPath).Debugln("persisted user models")
	return nil
}
