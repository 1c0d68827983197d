package knowledge

import (
	_ "embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// catalogFile is the on-disk YAML shape of a catalog.
type catalogFile struct {
	Points []KnowledgePoint `yaml:"points"`
}

// Default returns the graph built from the embedded catalog.
func Default(opts ...Option) (*Graph, error) {
	points, err := Parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return New(points, opts...)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) ([]KnowledgePoint, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for i := range f.Points {
		f.Points[i].ID = strings.TrimSpace(f.Points[i].ID)
		f.Points[i].ParentID = strings.TrimSpace(f.Points[i].ParentID)
	}
	return f.Points, nil
}

// Load reads a catalog from a YAML file, or from every *.yaml/*.yml file
// under a directory, and builds the graph.
func Load(path string, opts ...Option) (*Graph, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking catalog dir: %w", err)
		}
	} else {
		files = []string{path}
	}

	var points []KnowledgePoint
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		ps, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		points = append(points, ps...)
	}
	return New(points, opts...)
}
