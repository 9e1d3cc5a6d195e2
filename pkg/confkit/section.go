package confkit

import (
	"os"
	"path/filepath"
	"strings"
)

// Section is a block of the main config that lives in its own file. File is
// resolved relative to the main config's directory; Value holds the decoded
// result after Hydrate.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate decodes File with loader. An empty File leaves the section unset.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if strings.TrimSpace(s.File) == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}

// Loaded reports whether Hydrate produced a value.
func (s Section[T]) Loaded() bool { return s.Value != nil }

// ResolvePath expands environment references in file and anchors relative
// results at base.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(strings.TrimSpace(file))
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}
