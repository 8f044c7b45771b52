package modelcache

import (
	"fmt"

	parser "github.com/gpustack/gguf-parser-go"
)

// ValidateGGUF parses path far enough to confirm it is a well-formed GGUF
// container, using the same parser as the memory estimate in
// pkg/wrapped/llamacpp. Resolution and loading do not call it: ResolveLocal
// checks only that the matched files exist and are non-empty.
func ValidateGGUF(path string) error {
	if _, err := parser.ParseGGUFFile(path); err != nil {
		return fmt.Errorf("invalid GGUF file %s: %w", path, err)
	}
	return nil
}
