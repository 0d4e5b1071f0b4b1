// Package main provides the dstctl CLI entry point.
//
// dstctl runs the two shards of a Don't Starve Together dedicated server
// as one supervised unit and maintains its saves.
package main

import (
	"os"

	"github.com/randomizedcoder/dstctl/internal/cli"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/dstctl
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
