package manifest

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// CondaEnvironment is the dependency view of a conda environment file.
// Entries from the conda dependency list and the nested pip list are
// flattened into one requirement set.
type CondaEnvironment struct {
	Name         string
	Requirements []Requirement
}

type condaFile struct {
	Name         string   `yaml:"name"`
	Channels     []string `yaml:"channels"`
	Dependencies []any    `yaml:"dependencies"`
}

// ParseCondaEnvironment reads an environment.yml document. Conda entries
// use single '=' pins (name=version=build, the build tag is dropped);
// nested pip entries follow the usual pip syntax. Line numbers are
// ordinals within the dependency list, not positions in the YAML source.
func ParseCondaEnvironment(data []byte) (*CondaEnvironment, error) {
	var doc condaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid environment file: %w", err)
	}

	env := &CondaEnvironment{Name: doc.Name}
	line := 0
	for _, dep := range doc.Dependencies {
		switch v := dep.(type) {
		case string:
			line++
			req, err := parseCondaSpec(v)
			if err != nil {
				return nil, fmt.Errorf("dependency %d: %w", line, err)
			}
			req.Section = "dependencies"
			req.Line = line
			env.Requirements = append(env.Requirements, *req)
		case map[string]any:
			pips, ok := v["pip"]
			if !ok {
				return nil, fmt.Errorf("unsupported dependency entry %v", v)
			}
			items, ok := pips.([]any)
			if !ok {
				return nil, fmt.Errorf("pip section must be a list")
			}
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("pip entries must be strings")
				}
				line++
				req, err := parseRequirement(s)
				if err != nil {
					return nil, fmt.Errorf("pip dependency %q: %w", s, err)
				}
				req.Section = "pip"
				req.Line = line
				env.Requirements = append(env.Requirements, *req)
			}
		default:
			return nil, fmt.Errorf("unsupported dependency entry %v", dep)
		}
	}
	return env, nil
}

// parseCondaSpec handles conda match specs. A single '=' is conda's
// exact pin; comparison specs like "pip>=21.0" follow the pip rules.
func parseCondaSpec(s string) (*Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty dependency")
	}

	i := strings.IndexAny(s, "<>=!~")
	if i < 0 {
		if !nameRe.MatchString(s) {
			return nil, fmt.Errorf("invalid package name %q", s)
		}
		return &Requirement{Name: s}, nil
	}
	if s[i] == '=' && (i+1 == len(s) || s[i+1] != '=') {
		name := strings.TrimSpace(s[:i])
		if !nameRe.MatchString(name) {
			return nil, fmt.Errorf("invalid package name %q", name)
		}
		version := strings.TrimSpace(strings.Split(s[i+1:], "=")[0])
		if !versionRe.MatchString(version) {
			return nil, fmt.Errorf("invalid version in %q", s)
		}
		return &Requirement{Name: name, Specifier: []Comparison{{Op: "==", Version: version}}}, nil
	}
	return parseRequirement(s)
}
