// Command resendgate decides which publishing orders may be resent.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/resendgate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
