package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "dealsense"}

	root.AddCommand(serveCMD(), migrateCMD(), analyzeCMD())
	_ = root.Execute()
}
