package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "glassmeet-client",
	Short: "Headless glassmeet client",
	Long:  "Connects to a glassmeet relay, joins a room and negotiates direct peer connections.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
