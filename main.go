// The main package for the ld-frontier executable.
package main

import (
	"github.com/JakeFAU/ld-frontier/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
