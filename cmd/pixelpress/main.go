package main

import "github.com/dunamismax/pixelpress/internal/cli"

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.Main()
}
