//go:build v8

package jsrun

import (
	"github.com/hostwire/jsrun/internal/core"
	"github.com/hostwire/jsrun/internal/v8engine"
)

// newVMFactory builds engine VMs on the V8 backend (-tags v8).
func newVMFactory(cfg core.VMConfig) core.VMFactory {
	return func() (core.VM, error) {
		return v8engine.New(cfg)
	}
}
