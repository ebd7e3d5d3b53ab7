package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"

	"gownqueue/testutil"
)

// TestOnlyBlobPackageImportsBackends keeps the concrete blob backends behind
// this package. Everything else, tests included, depends on blob.Store.
func TestOnlyBlobPackageImportsBackends(t *testing.T) {
	const (
		infraPrefix   = "gownqueue/internal/infra/blob"
		allowedPrefix = "gownqueue/internal/blob"
	)

	seen := make(map[string]struct{})
	for _, pkg := range testutil.LoadModule(t, packages.NeedImports) {
		if isUnder(pkg.PkgPath, allowedPrefix) || isUnder(pkg.PkgPath, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if testutil.BlobBackendImport(importPath) || importPath == infraPrefix {
				seen[pkg.ID+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import of blob backend: %s", v)
		}
		t.Fatalf("found %d forbidden imports of blob backends", len(violations))
	}
}

// isUnder also matches the external _test package of prefix.
func isUnder(pkgPath, prefix string) bool {
	return pkgPath == prefix || pkgPath == prefix+"_test" || strings.HasPrefix(pkgPath, prefix+"/")
}
