// interviewctl inspects and maintains interview checkpoints.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultApp()).Execute(); err != nil {
		os.Exit(1)
	}
}
