//go:build linux || darwin

package main

import "github.com/google/subcommands"

func registerPlatform() {
	subcommands.Register(new(Send), "transfer")
	subcommands.Register(new(Serve), "transfer")
}
