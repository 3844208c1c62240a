// Binary repsense wires the CLI together; all commands live in cmd/.

package main

import (
	"github.com/repsense/repsense/cmd"
)

func main() {
	cmd.Execute()
}
