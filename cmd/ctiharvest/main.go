// Command ctiharvest is the service entry point.
package main

import (
	"os"

	"ctiharvest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
