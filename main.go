// ./main.go
package main

import (
	"github.com/squidsec/kalamari/cmd"
)

// main is the entry point for the Kalamari CLI.
func main() {
	cmd.Execute()
}
