// Command hyved runs the hyveos mesh daemon.
package main

import (
	"github.com/p2p-industries/hyveos/internal/cmd"
)

func main() {
	cmd.Execute()
}
