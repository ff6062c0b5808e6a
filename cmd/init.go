package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/arcward/recollect/recollect"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var skipCredentials bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and generate admin API credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable RC_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable RC_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		db, err := recollect.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		if sqlDB, e := db.DB(); e == nil {
			defer sqlDB.Close()
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Database migrated.")
		if skipCredentials {
			return
		}

		reader := bufio.NewReader(cmd.InOrStdin())

		fmt.Fprint(out, "Enter admin username: ")
		username, _ := reader.ReadString('\n')
		username = strings.TrimSpace(username)

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}
		var password string
		for {
			fmt.Fprint(out, "Enter admin password: ")
			passwordBytes, _ := customPasswordReader()
			password = string(passwordBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin password: ")
			confirmPasswordBytes, _ := customPasswordReader()
			confirmPassword := string(confirmPasswordBytes)
			fmt.Fprintln(out)

			if password != "" && password == confirmPassword {
				break
			}
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		}

		hashedPassword, err := recollect.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}

		prefix := os.Getenv(recollect.EnvvarSetEnvPrefix)
		if prefix == "" {
			prefix = recollect.DefaultEnvPrefix
		}
		fmt.Fprintln(out, "Add these to your environment to enable the admin API:")
		fmt.Fprintf(out, "%s_API_ENABLED=true\n", prefix)
		fmt.Fprintf(out, "%s_API_ADMIN_USERNAME=%s\n", prefix, username)
		fmt.Fprintf(out, "%s_API_ADMIN_PASSWORD_HASH='%s'\n", prefix, hashedPassword)
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

func init() {
	initCmd.Flags().BoolVar(
		&skipCredentials,
		"skip-credentials",
		false,
		"Only migrate the database",
	)
	rootCmd.AddCommand(initCmd)
}
