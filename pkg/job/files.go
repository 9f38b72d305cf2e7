package job

import (
	"fmt"
	"io"
	"os"
)

// readFiles reads every file of the logical name to path mapping fully into
// memory. It never returns a nil map.
func readFiles(paths map[string]string) (map[string][]byte, error) {
	contents := make(map[string][]byte, len(paths))
	for name, path := range paths {
		b, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: file %q: %w", ErrFileAccess, name, err)
		}
		contents[name] = b
	}
	return contents, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: Potential file inclusion via variable
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by readFiles
	}
	defer f.Close() //nolint:errcheck // read only
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read %q: %w", path, err)
	}
	return b, nil
}
