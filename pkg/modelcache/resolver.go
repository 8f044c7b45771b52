package modelcache

import (
	"path"
	"sort"
	"strings"

	"github.com/lemonade-sdk/lemonade-server/pkg/lemonadeerr"
)

// ParseCheckpoint splits a "repo[:variant]" checkpoint string into its repo
// and variant parts. A missing ":" yields an empty variant (rule 3, "first
// non-mmproj .gguf").
func ParseCheckpoint(checkpoint string) (repo, variant string) {
	repo, variant, found := strings.Cut(checkpoint, ":")
	if !found {
		return checkpoint, ""
	}
	return repo, variant
}

// isMMProj reports whether a filename is a multimodal projector file, which
// is excluded from variant matching except when explicitly requested.
func isMMProj(name string) bool {
	return strings.Contains(strings.ToLower(name), "mmproj")
}

// ResolveVariant implements the GGUF variant resolution rules: given the
// flat list of file paths within a snapshot directory (forward-slash
// separated, relative to the snapshot root) and a variant string, it
// returns the primary file plus every file that belongs to the resolved
// variant (siblings of a sharded set, or just the primary for a single
// file).
//
// Rule order:
//  1. variant == "*"            -> all .gguf files; primary = sorted-first.
//  2. variant ends with ".gguf" -> exact file match.
//  3. variant == ""             -> first non-mmproj .gguf file, sorted.
//  4. otherwise                 -> unique file ending "<variant>.gguf"
//     (case-insensitive, mmproj excluded); multiple matches is a fatal
//     AmbiguousVariantError. Zero matches falls through to rule 5.
//  5. otherwise                 -> a folder literally named <variant>
//     containing sharded .gguf files; primary = sorted-first.
func ResolveVariant(checkpoint string, files []string) (primary string, matched []string, err error) {
	_, variant := ParseCheckpoint(checkpoint)

	var gguf []string
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f), ".gguf") {
			gguf = append(gguf, f)
		}
	}
	sort.Strings(gguf)

	switch {
	case variant == "*":
		if len(gguf) == 0 {
			return "", nil, lemonadeerr.ErrModelNotFound
		}
		return gguf[0], gguf, nil

	case strings.HasSuffix(strings.ToLower(variant), ".gguf"):
		for _, f := range gguf {
			if path.Base(f) == variant {
				return f, []string{f}, nil
			}
		}
		return "", nil, lemonadeerr.ErrModelNotFound

	case variant == "":
		for _, f := range gguf {
			if !isMMProj(f) {
				return f, []string{f}, nil
			}
		}
		return "", nil, lemonadeerr.ErrModelNotFound

	default:
		suffix := strings.ToLower(variant) + ".gguf"
		var suffixMatches []string
		for _, f := range gguf {
			if isMMProj(f) {
				continue
			}
			if strings.HasSuffix(strings.ToLower(path.Base(f)), suffix) {
				suffixMatches = append(suffixMatches, f)
			}
		}
		switch len(suffixMatches) {
		case 1:
			return suffixMatches[0], suffixMatches, nil
		case 0:
			// Fall through to folder-sharded resolution (rule 5).
		default:
			return "", nil, &lemonadeerr.AmbiguousVariantError{
				Checkpoint: checkpoint,
				Pattern:    variant,
				Matches:    suffixMatches,
			}
		}

		var folderMatches []string
		for _, f := range gguf {
			if path.Dir(f) == variant {
				folderMatches = append(folderMatches, f)
			}
		}
		if len(folderMatches) == 0 {
			return "", nil, lemonadeerr.ErrModelNotFound
		}
		sort.Strings(folderMatches)
		return folderMatches[0], folderMatches, nil
	}
}

// MMProjFile returns the mmproj sibling file in files, if any.
func MMProjFile(files []string) string {
	for _, f := range files {
		if isMMProj(f) && strings.HasSuffix(strings.ToLower(f), ".gguf") {
			return f
		}
	}
	return ""
}
