// Entry point for the gridsim CLI. All command wiring lives in cmd.
package main

import (
	"github.com/gridsim/gridsim/cmd"
)

func main() {
	cmd.Execute()
}
