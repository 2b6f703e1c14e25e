// Entrypoint delegating to the Cobra root command in cmd/root.go.

package main

import (
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/cmd"
)

func main() {
	cmd.Execute()
}
