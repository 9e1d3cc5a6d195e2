package confkit

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string
}

func TestResolvePath(t *testing.T) {
	t.Setenv("TL_CONF_DIR", "/opt/tradelink")
	cases := map[string]struct {
		base, file, want string
	}{
		"absolute":      {"/base", "/etc/x.yaml", "/etc/x.yaml"},
		"relative":      {"/base", "sub/x.yaml", "/base/sub/x.yaml"},
		"env absolute":  {"/base", "${TL_CONF_DIR}/x.yaml", "/opt/tradelink/x.yaml"},
		"trimmed":       {"/base", "  x.yaml ", "/base/x.yaml"},
		"parent escape": {"/base/etc", "../x.yaml", "/base/x.yaml"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolvePath(tc.base, tc.file))
		})
	}
}

func TestSectionHydrate(t *testing.T) {
	var gotPath string
	loader := func(p string) (*sample, error) {
		gotPath = p
		return &sample{Name: "loaded"}, nil
	}

	s := Section[sample]{File: "exchange.yaml"}
	require.NoError(t, s.Hydrate("/cfg", loader))
	assert.True(t, s.Loaded())
	assert.Equal(t, "/cfg/exchange.yaml", gotPath)
	assert.Equal(t, "/cfg/exchange.yaml", s.File)
	assert.Equal(t, "loaded", s.Value.Name)

	var empty Section[sample]
	require.NoError(t, empty.Hydrate("/cfg", func(string) (*sample, error) {
		t.Fatal("loader must not run without a file")
		return nil, nil
	}))
	assert.False(t, empty.Loaded())

	failing := Section[sample]{File: "bad.yaml"}
	boom := errors.New("boom")
	err := failing.Hydrate("/cfg", func(string) (*sample, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, failing.Loaded())
	assert.Equal(t, "bad.yaml", failing.File)
}

func TestOpenAndDecode(t *testing.T) {
	t.Setenv(EnvNoDotenv, "1")
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("paper"), 0o644))

	decode := func(r io.Reader) (*sample, error) {
		var s sample
		err := Decode("sample", r, func(b []byte) error {
			if len(b) == 0 {
				return errors.New("empty")
			}
			s.Name = string(b)
			return nil
		})
		return &s, err
	}

	got, err := Open("sample", path, decode)
	require.NoError(t, err)
	assert.Equal(t, "paper", got.Name)

	_, err = Open("sample", filepath.Join(dir, "missing.txt"), decode)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open sample config")

	_, err = decode(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal sample config: empty")
}

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := findRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = findRoot(filepath.Join(string(filepath.Separator), "nonexistent-tradelink", "x", "y", "z", "w", "v", "u", "t", "s"))
	assert.ErrorIs(t, err, errNoRoot)
}

func TestDotenvCandidates(t *testing.T) {
	t.Setenv(EnvFile, "/secrets/tradelink.env")
	assert.Equal(t, []string{"/secrets/tradelink.env"}, dotenvCandidates())
}

func TestLoadDotenvRespectsExisting(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("TL_DOTENV_KEEP=file\nTL_DOTENV_NEW=file\n"), 0o644))
	t.Setenv(EnvFile, envPath)
	t.Setenv("TL_DOTENV_KEEP", "process")
	t.Setenv("TL_DOTENV_NEW", "")
	require.NoError(t, os.Unsetenv("TL_DOTENV_NEW"))

	loadDotenv()
	assert.Equal(t, "process", os.Getenv("TL_DOTENV_KEEP"))
	assert.Equal(t, "file", os.Getenv("TL_DOTENV_NEW"))

	t.Setenv(EnvOverload, "1")
	loadDotenv()
	assert.Equal(t, "file", os.Getenv("TL_DOTENV_KEEP"))
}
