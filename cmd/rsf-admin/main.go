// Package main provides the rsf-admin CLI tool for inspecting a running
// service through its admin API.
package main

import (
	"os"

	"github.com/sirosfoundation/go-service-framework/cmd/rsf-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
