// Package sqlargo is a small tool for the sqlite archives written by
// imageextract extract --archive.
//     sqlargo pack case.sqlar case_folder
//     sqlargo ls --pattern '/registry/**' case.sqlar
//     sqlargo unpack --mode compact --output flat case.sqlar
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forensicanalysis/imageextract/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlargo",
		Short: "Use sqlite as an archive",
	}
	rootCmd.AddCommand(cmd.Pack(), cmd.Unpack(), cmd.Ls())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
