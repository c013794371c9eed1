// The main package for the webscraper executable.
package main

import (
	"github.com/JakeFAU/webpage-search/cmd"
)

func main() {
	cmd.Execute()
}
