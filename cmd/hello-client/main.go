// Package main provides hello-client, which probes running hello listeners.
package main

import (
	"os"

	"github.com/sirosfoundation/go-hello-listeners/cmd/hello-client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
