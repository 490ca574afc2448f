// Package main is the entry point for flipdeckctl.
//
// Usage:
//
//	flipdeckctl migrate
//	flipdeckctl reset-due
//	flipdeckctl grant-credits user_123 50 --reference support-42
//	flipdeckctl supply-task --model "Pixel 8" --platform vinted --priority high
package main

import (
	"fmt"
	"os"

	"github.com/jmylchreest/flipdeck-api/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
