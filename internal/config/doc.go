// Package config loads the Sandpolis configuration file.
//
// Configuration is loaded from a single file specified by:
//   - the --config flag, or
//   - the SANDPOLIS_CONFIG environment variable
//
// There is no automatic discovery. Without either, commands run on
// Default().
package config
