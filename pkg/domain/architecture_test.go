package domain

import (
	"testing"

	"gownqueue/testutil"
)

// The domain layer is imported by everything and imports nothing from the module.
func TestDomainImportsNothingFromModule(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportExcept(), "domain must stay free of module dependencies")
}

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImport, "domain must not depend on internal packages")
}
