package cmd

import (
	"github.com/arcward/recollect/recollect"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot, and (optionally) the admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := recollect.New(cfg)
			if err != nil {
				log.Fatalf("error creating recollect: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running recollect: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
