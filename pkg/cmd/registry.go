// Package cmd provides common initialization functions for the service
// binaries.
package cmd

import (
	"log/slog"

	"github.com/engageflow/flows/pkg/capabilities/httprequest"
	logcap "github.com/engageflow/flows/pkg/capabilities/log"
	"github.com/engageflow/flows/pkg/capabilities/sendmessage"
	"github.com/engageflow/flows/pkg/registry"
)

// NewRegistry builds a capability registry with all built-in capabilities.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterCapability(httprequest.NewFactory())
	reg.RegisterCapability(logcap.NewFactory())
	reg.RegisterCapability(sendmessage.NewFactory())

	return reg
}
