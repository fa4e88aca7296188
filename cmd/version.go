package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("Parley %s\n", AppVersion)
			fmt.Printf("Build Time: %s\n", BuildTime)
			fmt.Printf("Git Commit: %s\n", GitCommit)

			if os.Getenv("GEMINI_API_KEY") != "" {
				fmt.Println("GEMINI_API_KEY: configured")
			} else {
				fmt.Println("GEMINI_API_KEY: not set")
				fmt.Println("Hint: export GEMINI_API_KEY=your-api-key")
			}
		},
	})
}
