package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlife-social/livechat/auth"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/persistence"
	"github.com/nightlife-social/livechat/types"
	"github.com/spf13/cobra"
)

// A very simple CLI tool for the administration of livechat users and message history.

var (
	configPath   string
	globalConfig *config.Config
	persister    persistence.Persister
)

func printJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(b))
}

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	ctx := context.Background()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show users or history",
		Long:  `show is for printing user information or the message history of a room.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Show: " + strings.Join(args, " "))
		},
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all known users.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			users, err := persister.GetUsers(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			printJSON(users)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints detail information about the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user, err := persister.GetUser(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get user", "user", args[0], "error", err)
				return
			}
			printJSON(user)
		},
	}
	var historyLimit int
	var historyBefore string
	var cmdShowHistory = &cobra.Command{
		Use:   "history [room id]",
		Short: "Show history",
		Long:  `show history prints the latest messages of a room, newest first. --before pages back in time.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var before time.Time
			if historyBefore != "" {
				var err error
				before, err = time.Parse(time.RFC3339Nano, historyBefore)
				if err != nil {
					globals.AppLogger.Error("could not parse --before", "error", err)
					return
				}
			}
			limit := historyLimit
			if limit <= 0 || limit > globalConfig.HistoryConfig.MaxLimit {
				limit = globalConfig.HistoryConfig.DefaultLimit
			}
			msgs, err := persister.History(ctx, args[0], limit, before)
			if err != nil {
				globals.AppLogger.Error("could not get history", "room", args[0], "error", err)
				return
			}
			printJSON(msgs)
		},
	}
	cmdShowHistory.Flags().IntVar(&historyLimit, "limit", 0, "number of messages")
	cmdShowHistory.Flags().StringVar(&historyBefore, "before", "", "only messages older than this RFC 3339 timestamp")

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete user",
		Long:  `delete removes the user with a given user id.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Delete: " + strings.Join(args, " "))
		},
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Long:  `delete user removes the user with the given id. Messages keep the sender's name.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := persister.DeleteUser(ctx, args[0]); err != nil {
				globals.AppLogger.Error("could not delete user", "user", args[0], "error", err)
				return
			}
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update user",
		Long:  `set creates or updates a user or changes its role.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Set: " + strings.Join(args, " "))
		},
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [user definition]",
		Short: "Set user",
		Long:  `set user creates or updates a user with the given definition. If the user definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			user := types.User{}
			if err := json.NewDecoder(r).Decode(&user); err != nil {
				globals.AppLogger.Error("could not decode user", "error", err)
				return
			}
			if user.Id == "" {
				globals.AppLogger.Error("no user id")
				return
			}
			if user.Role != "" {
				if _, err := types.ParseRole(string(user.Role)); err != nil {
					globals.AppLogger.Error("invalid role", "role", user.Role)
					return
				}
			}
			if err := persister.StoreUser(ctx, user); err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
		},
	}
	var cmdSetRole = &cobra.Command{
		Use:   "role [user id] [USER|DJ|ADMIN]",
		Short: "Set role",
		Long:  `set role changes the role of an existing user. Connected clients see the new role after reconnecting.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			role, err := types.ParseRole(args[1])
			if err != nil {
				globals.AppLogger.Error("invalid role", "role", args[1])
				return
			}
			user, err := persister.GetUser(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get user", "user", args[0], "error", err)
				return
			}
			user.Role = role
			if err := persister.StoreUser(ctx, *user); err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
		},
	}
	var tokenTTL time.Duration
	var cmdToken = &cobra.Command{
		Use:   "token [user id] [name]",
		Short: "Issue token",
		Long:  `token prints a signed token for the user, f.e. for connecting test clients.`,
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			if globalConfig.AuthConfig.JWT.Secret == "" {
				globals.AppLogger.Error("no jwt secret configured")
				return
			}
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			v := auth.NewJWTVerifier(globalConfig.AuthConfig.JWT.Secret, globalConfig.AuthConfig.JWT.Issuer)
			token, err := v.IssueToken(args[0], name, tokenTTL)
			if err != nil {
				globals.AppLogger.Error("could not issue token", "error", err)
				return
			}
			fmt.Println(token)
		},
	}
	cmdToken.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "validity of the token")

	var rootCmd = &cobra.Command{
		Use: "livechat-admin",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			globalConfig, err = config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
			persister, err = persistence.NewPersister(globalConfig.PersistenceConfig)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			persister.Close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdDelete)
	rootCmd.AddCommand(cmdSet)
	rootCmd.AddCommand(cmdToken)
	cmdShow.AddCommand(cmdShowUsers, cmdShowUser, cmdShowHistory)
	cmdDelete.AddCommand(cmdDeleteUser)
	cmdSet.AddCommand(cmdSetUser, cmdSetRole)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
