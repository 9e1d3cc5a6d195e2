package confkit

import (
	"errors"
	"os"
	"path/filepath"
)

// maxRootDepth bounds the upward search for the module root.
const maxRootDepth = 8

var errNoRoot = errors.New("confkit: no go.mod or .git above working directory")

// ProjectRoot walks up from the working directory to the first directory
// holding go.mod or .git.
func ProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findRoot(wd)
}

// ProjectPath joins rel onto ProjectRoot.
func ProjectPath(rel string) (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

func findRoot(dir string) (string, error) {
	for i := 0; i < maxRootDepth; i++ {
		if exists(filepath.Join(dir, "go.mod")) || exists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errNoRoot
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
