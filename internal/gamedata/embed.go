// Package gamedata provides embedded game content and utilities for loading it.
package gamedata

import "embed"

// dataFS embeds the content files from this directory at build time.
//
//go:embed *.json *.txt
var dataFS embed.FS
