/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/internal/db"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
)

// userCmd represents the user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userRoleCmd = &cobra.Command{
	Use:   "role <username> <user|admin>",
	Short: "Change the role of a user",
	Long: `Changes the role of an existing user. The first administrator has to be
created this way, since the API only lets admins manage roles. Usage:

	stockroom user role jim admin
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := types.ParseRole(args[1])
		if err != nil {
			return err
		}

		cfg := config.LoadConfig()
		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("connect database failed: %w", err)
		}
		defer conn.Close()

		dialect, err := store.DialectFor(cfg.Database.Driver)
		if err != nil {
			return err
		}
		repos := store.NewRepositories(conn, dialect, clock.System{})
		users := services.NewUserService(repos.Users, services.NewBcryptHasher(cfg.Auth.BcryptCost))

		user, err := users.GetByUsername(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("find user %q: %w", args[0], err)
		}
		if _, err := users.SetRole(cmd.Context(), user.ID, role); err != nil {
			return err
		}
		cmd.Printf("%s is now %s\n", user.Username, role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userRoleCmd)
}
