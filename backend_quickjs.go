//go:build !v8

package jsrun

import (
	"github.com/hostwire/jsrun/internal/core"
	"github.com/hostwire/jsrun/internal/quickjs"
)

// newVMFactory builds engine VMs on the default QuickJS backend.
// Build with -tags v8 to select V8 instead.
func newVMFactory(cfg core.VMConfig) core.VMFactory {
	return func() (core.VM, error) {
		return quickjs.New(cfg)
	}
}
