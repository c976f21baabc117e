// Package defaults provides the embedded example configuration for the
// sensornode init subcommand.
package defaults

import _ "embed"

//go:embed sensornode.example.yaml
var ConfigYAML []byte
