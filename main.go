// The main package for the intaked executable.
package main

import (
	"github.com/jurisia/intake/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
