// Command kioskd runs the verification kiosk daemon.
package main

import (
	"os"

	"github.com/mdai-dev/kiosk/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
