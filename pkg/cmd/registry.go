// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/fakturo/fakturo/pkg/actions/httprequest"
	logaction "github.com/fakturo/fakturo/pkg/actions/log"
	"github.com/fakturo/fakturo/pkg/actions/sendmessage"
	"github.com/fakturo/fakturo/pkg/registry"
)

func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterExecutor(sendmessage.NewActionFactory(sendmessage.NewLogDeliverer(logger)))
	reg.RegisterExecutor(httprequest.NewActionFactory())
	reg.RegisterExecutor(logaction.NewActionFactory())

	return reg
}
