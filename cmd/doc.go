// Package cmd implements the command-line interface for the FrostByte
// cache client. It provides a hierarchical command structure covering
// single-node operations, pipelined batches and clustered access.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for cache operations (ping, put, get, del, expire, stats)
//     plus a performance testing tool
//   - pipe: Executes several commands as one pipelined batch
//   - cluster: Commands for clustered access (ping, status, stats)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See frostbyte -help for a list of all commands.
package cmd
