package config

import (
	"os"
	"path/filepath"

	"tradelink/pkg/confkit"
)

// DefaultPath is the main config location relative to the project root.
const DefaultPath = "etc/tradelink.yaml"

// ResolveMainPath returns path unchanged when it exists, otherwise the same
// relative path under the project root. Lets `go run ./cmd/tradelink` work
// from any directory inside the repository.
func ResolveMainPath(path string) string {
	if path == "" {
		path = DefaultPath
	}
	if filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	rooted, err := confkit.ProjectPath(path)
	if err != nil {
		return path
	}
	return rooted
}
