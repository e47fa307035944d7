// The main package for the statement-crawler executable.
package main

import (
	"github.com/JakeFAU/statement-crawler/cmd"
)

func main() {
	cmd.Execute()
}
