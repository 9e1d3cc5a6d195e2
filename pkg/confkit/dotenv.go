package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// Environment switches read before any .env file is loaded.
const (
	EnvNoDotenv = "TRADELINK_NO_DOTENV"
	EnvFile     = "TRADELINK_ENV_FILE"
	EnvOverload = "TRADELINK_DOTENV_OVERLOAD"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env into the process environment the first time it
// is called. TRADELINK_ENV_FILE names an explicit file; otherwise .env in
// the working directory and then in the project root are tried. Variables
// already set win unless TRADELINK_DOTENV_OVERLOAD=1.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv(EnvNoDotenv) == "1" {
		return
	}
	for _, p := range dotenvCandidates() {
		if !exists(p) {
			continue
		}
		if os.Getenv(EnvOverload) == "1" {
			_ = godotenv.Overload(p)
		} else {
			_ = godotenv.Load(p)
		}
	}
}

func dotenvCandidates() []string {
	if f := os.Getenv(EnvFile); f != "" {
		return []string{f}
	}
	paths := []string{".env"}
	if root, err := ProjectRoot(); err == nil {
		rooted := filepath.Join(root, ".env")
		if abs, err := filepath.Abs(".env"); err != nil || abs != rooted {
			paths = append(paths, rooted)
		}
	}
	return paths
}
