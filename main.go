// The main package for the boardscrape executable.
package main

import (
	_ "time/tzdata"

	"github.com/JakeFAU/boardscrape/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
