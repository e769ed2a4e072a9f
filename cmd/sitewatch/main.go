// Package main wires together the monitoring service binary.
package main

import (
	"fmt"
	"os"

	"sitewatch/cmd/sitewatch/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
