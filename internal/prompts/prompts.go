// Package prompts loads and renders the model prompt templates.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is one system/user prompt pair.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// Set is an immutable collection of parsed templates.
type Set struct {
	raw    map[string]Template
	system map[string]*template.Template
	user   map[string]*template.Template
}

// Load parses the embedded templates.
func Load() (*Set, error) {
	return parse(defaultTemplates)
}

// LoadFile parses the embedded templates and overlays entries from path.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	var overrides map[string]Template
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}
	var base map[string]Template
	if err := yaml.Unmarshal(defaultTemplates, &base); err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompts: %w", err)
	}
	for k, v := range overrides {
		base[k] = v
	}
	return build(base)
}

// MustLoad is Load for package initialisation and tests.
func MustLoad() *Set {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

func parse(data []byte) (*Set, error) {
	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompts: %w", err)
	}
	return build(raw)
}

func build(raw map[string]Template) (*Set, error) {
	s := &Set{
		raw:    raw,
		system: make(map[string]*template.Template),
		user:   make(map[string]*template.Template),
	}
	for name, t := range raw {
		if t.System != "" {
			tpl, err := template.New(name + ".system").Option("missingkey=error").Parse(t.System)
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", name, err)
			}
			s.system[name] = tpl
		}
		if t.User != "" {
			tpl, err := template.New(name + ".user").Option("missingkey=error").Parse(t.User)
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", name, err)
			}
			s.user[name] = tpl
		}
	}
	return s, nil
}

// Has reports whether a template with this name exists.
func (s *Set) Has(name string) bool {
	_, ok := s.raw[name]
	return ok
}

// System renders the system part of name. Missing parts render as "".
func (s *Set) System(name string, data any) (string, error) {
	return render(s.system, name, data)
}

// User renders the user part of name.
func (s *Set) User(name string, data any) (string, error) {
	if _, ok := s.user[name]; !ok {
		return "", fmt.Errorf("prompt %q has no user template", name)
	}
	return render(s.user, name, data)
}

// Render returns both parts of name.
func (s *Set) Render(name string, data any) (system, user string, err error) {
	if system, err = s.System(name, data); err != nil {
		return "", "", err
	}
	if user, err = s.User(name, data); err != nil {
		return "", "", err
	}
	return system, user, nil
}

// WriterSystem picks writer_system_<major> when it exists, else writer_system.
func (s *Set) WriterSystem(major string) string {
	if major != "" {
		name := "writer_system_" + strings.ToLower(major)
		if s.Has(name) {
			return name
		}
	}
	return "writer_system"
}

func render(m map[string]*template.Template, name string, data any) (string, error) {
	tpl, ok := m[name]
	if !ok {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
