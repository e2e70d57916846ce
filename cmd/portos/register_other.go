//go:build !linux && !darwin

package main

// registerPlatform registers nothing; socket transfer needs poll(2).
func registerPlatform() {}
