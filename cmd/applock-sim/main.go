// Command applock-sim replays YAML scenarios against a session controller
// with a scripted biometric sensor and a simulated clock.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
