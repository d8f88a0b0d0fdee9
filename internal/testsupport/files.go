package testsupport

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// filler is an endless stream of a single placeholder byte.
type filler struct{}

func (filler) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x42
	}
	return len(p), nil
}

// WriteFile creates path with exactly size bytes of filler content, making
// parent directories as needed. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size < 1 {
		size = 1
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %q: %v", dir, err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %q: %v", path, err)
	}
	if _, err := io.CopyN(file, filler{}, size); err != nil {
		file.Close()
		t.Fatalf("fill %q: %v", path, err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close %q: %v", path, err)
	}
}

// StageImage writes a small placeholder image payload into the config's
// staging directory and returns its path.
func StageImage(t testing.TB, stagingDir, name string) string {
	t.Helper()

	path := filepath.Join(stagingDir, name)
	WriteFile(t, path, 4096)
	return path
}
