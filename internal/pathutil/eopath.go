// Package pathutil provides path handling utilities for addressing nodes
// inside an EO product tree. Product paths always use "/" as separator;
// store-specific separators are only applied when building backend keys.
package pathutil

import (
	"fmt"
	gopath "path"
	"strings"
)

// Sep is the canonical product path separator.
const Sep = "/"

// Norm normalizes a product path, resolving "." and ".." segments.
// An empty path is invalid.
func Norm(eoPath string) (string, error) {
	if eoPath == "" {
		return "", fmt.Errorf("invalid empty path")
	}
	return gopath.Clean(eoPath), nil
}

// IsAbsolute reports whether the path resolves from the product root
// rather than from the receiving container. Paths climbing above the
// current container ("../x") are treated as absolute as well since they
// cannot be resolved locally.
func IsAbsolute(eoPath string) bool {
	norm, err := Norm(eoPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(norm, Sep) || norm == ".." || strings.HasPrefix(norm, ".."+Sep)
}

// Downsplit splits the first segment from the remainder of a path.
// rest is empty when the path is a single identifier.
func Downsplit(eoPath string) (head, rest string) {
	norm, err := Norm(eoPath)
	if err != nil {
		return eoPath, ""
	}
	norm = strings.TrimPrefix(norm, Sep)
	head, rest, _ = strings.Cut(norm, Sep)
	return head, rest
}

// Upsplit splits a path into its parent path and final segment.
func Upsplit(eoPath string) (dir, base string) {
	dir, base = gopath.Split(eoPath)
	if dir != Sep {
		dir = strings.TrimSuffix(dir, Sep)
	}
	return dir, base
}

// Partition decomposes a path into its segments. Absolute paths yield a
// leading "/" element, mirroring the root of the product tree.
func Partition(eoPath string) []string {
	norm, err := Norm(eoPath)
	if err != nil {
		return nil
	}
	var parts []string
	if strings.HasPrefix(norm, Sep) {
		parts = append(parts, Sep)
		norm = strings.TrimPrefix(norm, Sep)
	}
	if norm == "" || norm == "." {
		return parts
	}
	return append(parts, strings.Split(norm, Sep)...)
}

// Join joins product path segments and normalizes the result.
func Join(subpaths ...string) string {
	valid := subpaths[:0:0]
	for _, p := range subpaths {
		if p != "" {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return ""
	}
	joined, err := Norm(gopath.Join(valid...))
	if err != nil {
		return ""
	}
	return joined
}

// JoinSep joins segments with a backend-specific separator. No
// normalization is applied; backends define their own key syntax.
func JoinSep(sep string, subpaths ...string) string {
	return strings.Join(subpaths, sep)
}

// ProductRelative rewrites an absolute path into the path that should be
// resolved starting at the product root. context is the path of the
// container that received the absolute key. The result is empty when the
// path designates the root itself.
func ProductRelative(context, eoPath string) string {
	var absolute string
	if strings.HasPrefix(eoPath, Sep) {
		// An absolute key overrides the context entirely.
		absolute, _ = Norm(eoPath)
	} else {
		absolute = Join(context, eoPath)
	}
	rel := strings.TrimPrefix(absolute, Sep)
	if rel == "" || rel == "." {
		return ""
	}
	return rel
}
