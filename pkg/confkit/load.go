package confkit

import (
	"fmt"
	"io"
	"os"
)

// Open reads the file at path through decode after loading .env. name labels
// errors, e.g. "open exchange config: ...".
func Open[T any](name, path string, decode func(io.Reader) (*T, error)) (*T, error) {
	LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s config: %w", name, err)
	}
	defer file.Close()
	return decode(file)
}

// Decode reads all of r and hands the bytes to unmarshal, labelling both
// failure modes with name.
func Decode(name string, r io.Reader, unmarshal func([]byte) error) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read %s config: %w", name, err)
	}
	if err := unmarshal(data); err != nil {
		return fmt.Errorf("unmarshal %s config: %w", name, err)
	}
	return nil
}
