package main

import "github.com/tonimelisma/dracoon-go/internal/dracoon"

func main() {
	dracoon.SetUserAgent("dracoon-go/" + version)

	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
