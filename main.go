// ABOUTME: Entry point for the portalctl CLI
// ABOUTME: Session client for the portal backend: login, refresh and authenticated calls

package main

import (
	"fmt"
	"os"

	"github.com/bobbytumur/portalctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
