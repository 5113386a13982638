// The main package for the bugscraper executable.
package main

import (
	"github.com/vikigenius/bugscraper/cmd"
)

func main() {
	cmd.Execute()
}
