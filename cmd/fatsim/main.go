// Package main provides fatsim, a FAT style file system simulator over a
// single backing image file.
package main

import (
	"os"

	"fatsim/internal/shell"
)

func main() {
	os.Exit(shell.Run(os.Stdin, os.Stdout, os.Stderr, os.Args[1:]))
}
