// Package cmd implements the command-line interface for the dcache clustered
// replicated cache. It provides a hierarchical command structure for running
// a demo cluster and inspecting its state.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring an in-process demo cluster
//   - util: Shared utilities for command-line processing, configuration and
//     logging (internal use)
//
// See dcache -help for a list of all commands.
package cmd
