// Package configassets embeds the default configuration so installed
// binaries do not depend on files next to them.
package configassets

import _ "embed"

// Defaults is the built-in configuration document.
//
//go:embed defaults.yaml
var Defaults []byte
