// Package resolver discovers model directories under a root path. The
// outcome is a closed variant: one model rooted exactly at the path, or a
// group of models found below it. Downstream code consumes both uniformly
// through Models().
package resolver

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pxpalacios/ladruno/pkg/models"
)

// Kind distinguishes the two resolution outcomes.
type Kind int

const (
	SingleModel Kind = iota
	ModelGroup
)

func (k Kind) String() string {
	if k == SingleModel {
		return "single"
	}
	return "group"
}

// Resolution is the result of resolving a root path.
type Resolution struct {
	Kind   Kind
	Root   string
	models []*models.Model
}

// Models returns the discovered models in deterministic (sorted) order.
func (r *Resolution) Models() []*models.Model {
	return r.models
}

// Resolve inspects root. A directory holding the input file directly is a
// SingleModel; otherwise every directory below it holding one becomes part
// of a ModelGroup. A root matching no model at all is a configuration-time
// misuse and returns a ConfigurationError.
func Resolve(root, inputFile string) (*Resolution, error) {
	if inputFile == "" {
		inputFile = "main.tcl"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, models.NewConfigurationError("cannot resolve path %s: %v", root, err)
	}

	if fileExists(filepath.Join(abs, inputFile)) {
		return &Resolution{
			Kind:   SingleModel,
			Root:   abs,
			models: []*models.Model{{Path: abs}},
		}, nil
	}

	var dirs []string
	filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == inputFile {
			dirs = append(dirs, filepath.Dir(path))
		}
		return nil
	})

	if len(dirs) == 0 {
		return nil, models.NewConfigurationError("no %s found under %s", inputFile, abs)
	}

	sort.Strings(dirs)
	found := make([]*models.Model, 0, len(dirs))
	for _, dir := range dirs {
		found = append(found, &models.Model{Path: dir})
	}
	return &Resolution{Kind: ModelGroup, Root: abs, models: found}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
