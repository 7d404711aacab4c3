//go:build !windows

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "overlay: the overlay DLL is built for Windows only")
	os.Exit(1)
}
