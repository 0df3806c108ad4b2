// Ambuild is an incremental C/C++ build system.
package main

import "github.com/albertocavalcante/ambuild/cmd/ambuild/internal/cli"

func main() {
	cli.Execute()
}
