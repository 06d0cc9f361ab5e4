package main

import (
	"os"
	"path/filepath"

	cmd "github.com/stateshift/rollup-httpd/cmd/rollup-httpd/commands"
	"github.com/stateshift/rollup-httpd/libs/cli"
	tmos "github.com/stateshift/rollup-httpd/libs/os"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.StartCmd,
		cmd.VersionCmd,
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "ROLLUP")
	if err := baseCmd.Execute(); err != nil {
		tmos.Exit(filepath.Base(os.Args[0]) + ": " + err.Error())
	}
}
