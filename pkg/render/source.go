package render

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/netpulse/netpulse/pkg/errdefs"
)

const filePrefix = "file://"

// ResolveSource materializes a template source. Inline sources pass
// through; file:// sources are looked up in the configured template
// directories in order. Path escapes are rejected.
func ResolveSource(source string, searchPaths []string) (string, error) {
	if !strings.HasPrefix(source, filePrefix) {
		return source, nil
	}
	name := strings.TrimPrefix(source, filePrefix)
	if name == "" {
		return "", errdefs.Validationf("empty template file name")
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", errdefs.Validationf("template file name %q escapes the search path", name)
	}
	for _, dir := range searchPaths {
		data, err := os.ReadFile(filepath.Join(dir, clean))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
	return "", errdefs.NotFoundf("template file %q in %v", name, searchPaths)
}
