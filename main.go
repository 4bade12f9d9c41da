package main

import (
	"os"

	"karasu/internal/karasu"
)

func main() {
	os.Exit(karasu.Run(os.Args[1:]))
}
