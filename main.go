package main

import (
	"fmt"
	"os"

	"patientchat/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "patientchat:", err)
		os.Exit(1)
	}
}
