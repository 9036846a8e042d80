// Package configs embeds configuration templates so they ship inside
// the binary regardless of how it was installed.
package configs

import _ "embed"

// ConfigTemplate is the annotated default configuration file.
//
//go:embed robomonkey.example.yaml
var ConfigTemplate []byte

// TagRulesTemplate is a starter tag rules file.
//
//go:embed tag-rules.example.yaml
var TagRulesTemplate []byte
