// The main package for the gsc-tracker executable.
package main

import (
	"github.com/JakeFAU/gsc-tracker/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
