package lockspec

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceKind tags the format of a source document. Format detection happens
// once at this boundary; the engine itself never inspects payloads.
type SourceKind string

const (
	// SourceKindEnvironment is a conda environment.yml document, optionally
	// carrying the conda-lock extension keys `platforms` and `category`.
	SourceKindEnvironment SourceKind = "environment"
)

// SourceDocument is a raw source file plus its detected kind.
type SourceDocument struct {
	Kind    SourceKind
	Path    string
	Payload []byte
}

// ReadSourceFile loads a source document from disk and tags its kind.
func ReadSourceFile(path string) (*SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".yml") && !strings.HasSuffix(path, ".yaml") {
		return nil, fmt.Errorf("unsupported source file format: %s", path)
	}
	return &SourceDocument{Kind: SourceKindEnvironment, Path: path, Payload: data}, nil
}

// environmentDocument mirrors the environment.yml schema. Dependency entries
// are either plain strings (conda match specs) or a one-key map nesting pip
// requirement strings under "pip".
type environmentDocument struct {
	Name         string        `yaml:"name"`
	Channels     []string      `yaml:"channels"`
	Dependencies []interface{} `yaml:"dependencies"`
	Platforms    []string      `yaml:"platforms"`
	Category     string        `yaml:"category"`
}

// ToLockSpecification parses the document into the canonical specification.
// defaultPlatforms applies when the document does not name its own platforms.
func (d *SourceDocument) ToLockSpecification(defaultPlatforms []string) (*LockSpecification, error) {
	switch d.Kind {
	case SourceKindEnvironment:
		return parseEnvironmentDocument(d, defaultPlatforms)
	default:
		return nil, fmt.Errorf("unknown source document kind %q", d.Kind)
	}
}

func parseEnvironmentDocument(d *SourceDocument, defaultPlatforms []string) (*LockSpecification, error) {
	var doc environmentDocument
	if err := yaml.Unmarshal(d.Payload, &doc); err != nil {
		return nil, fmt.Errorf("parsing environment file %s: %w", d.Path, err)
	}

	category := doc.Category
	if category == "" {
		category = DefaultCategory
	}
	platforms := doc.Platforms
	if len(platforms) == 0 {
		platforms = defaultPlatforms
	}

	spec := &LockSpecification{
		Platforms: platforms,
		Sources:   []string{d.Path},
	}
	for _, ch := range doc.Channels {
		spec.Channels = append(spec.Channels, NewChannel(ch))
	}

	for _, entry := range doc.Dependencies {
		switch v := entry.(type) {
		case string:
			dep, err := ParseCondaSpec(v, category)
			if err != nil {
				return nil, fmt.Errorf("parsing dependency %q in %s: %w", v, d.Path, err)
			}
			spec.Dependencies = append(spec.Dependencies, dep)
		case map[string]interface{}:
			pipEntries, ok := v["pip"]
			if !ok {
				return nil, fmt.Errorf("unsupported dependency mapping in %s: %v", d.Path, v)
			}
			pipList, ok := pipEntries.([]interface{})
			if !ok {
				return nil, fmt.Errorf("pip section in %s must be a list", d.Path)
			}
			for _, p := range pipList {
				raw, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("pip entry in %s must be a string, got %v", d.Path, p)
				}
				dep, err := ParsePipRequirement(raw, category)
				if err != nil {
					return nil, fmt.Errorf("parsing pip dependency %q in %s: %w", raw, d.Path, err)
				}
				// The pip: section is an explicit manager assertion.
				dep.ManagerExplicit = true
				spec.Dependencies = append(spec.Dependencies, dep)
			}
		default:
			return nil, fmt.Errorf("unsupported dependency entry in %s: %v", d.Path, entry)
		}
	}

	return spec, nil
}

// ParseCondaSpec splits a conda match spec string ("python", "python=3.10",
// "python >=3.9,<3.11", "python=3.10=h123_0") into a Dependency. The version
// constraint stays opaque beyond the split.
func ParseCondaSpec(raw string, category string) (Dependency, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Dependency{}, fmt.Errorf("empty dependency spec")
	}

	dep := Dependency{Manager: ManagerConda, Category: category, Version: "*"}

	// name=version or name=version=build form
	if idx := strings.IndexAny(s, "=<>!~ "); idx == -1 {
		dep.Name = s
		return dep, nil
	}

	if !strings.ContainsAny(s, "<>!~ ") && strings.Contains(s, "=") && !strings.Contains(s, "==") {
		parts := strings.Split(s, "=")
		switch len(parts) {
		case 2:
			dep.Name, dep.Version = parts[0], parts[1]
		case 3:
			dep.Name, dep.Version, dep.Build = parts[0], parts[1], parts[2]
		default:
			return Dependency{}, fmt.Errorf("malformed match spec %q", raw)
		}
		if dep.Name == "" {
			return Dependency{}, fmt.Errorf("malformed match spec %q", raw)
		}
		return dep, nil
	}

	idx := strings.IndexAny(s, "=<>!~ ")
	dep.Name = strings.TrimSpace(s[:idx])
	dep.Version = strings.TrimSpace(s[idx:])
	if dep.Name == "" || dep.Version == "" {
		return Dependency{}, fmt.Errorf("malformed match spec %q", raw)
	}
	return dep, nil
}

// ParsePipRequirement splits a pip requirement string ("requests >=2.28",
// "uvicorn[standard]==0.23.1", "mypkg @ https://host/pkg.whl") into a
// Dependency.
func ParsePipRequirement(raw string, category string) (Dependency, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Dependency{}, fmt.Errorf("empty pip requirement")
	}

	dep := Dependency{Manager: ManagerPip, Category: category, Version: "*"}

	// Direct URL reference: "name @ url"
	if name, url, ok := strings.Cut(s, "@"); ok && strings.Contains(url, "://") {
		dep.Name = strings.TrimSpace(name)
		dep.URL = strings.TrimSpace(url)
		if dep.Name == "" {
			return Dependency{}, fmt.Errorf("malformed pip URL requirement %q", raw)
		}
		return dep, nil
	}

	idx := strings.IndexAny(s, "=<>!~ ")
	name := s
	if idx != -1 {
		name = strings.TrimSpace(s[:idx])
		dep.Version = strings.TrimSpace(s[idx:])
	}

	// Extras: name[extra1,extra2]
	if open := strings.Index(name, "["); open != -1 && strings.HasSuffix(name, "]") {
		extras := strings.Split(name[open+1:len(name)-1], ",")
		for i := range extras {
			extras[i] = strings.TrimSpace(extras[i])
		}
		dep.Extras = extras
		name = name[:open]
	}

	dep.Name = name
	if dep.Name == "" {
		return Dependency{}, fmt.Errorf("malformed pip requirement %q", raw)
	}
	return dep, nil
}
