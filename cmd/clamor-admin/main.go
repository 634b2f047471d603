package main

// A very simple CLI tool for the administration of clamor servers, channels
// and memberships, operating directly on the configured store.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/globals"
	"github.com/clamor-chat/clamor/persistence"
	"github.com/clamor-chat/clamor/types"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	store      persistence.Store
)

func openStore(cmd *cobra.Command, args []string) error {
	flagSet := config.GetFlagSet()
	globalConfig, err := config.ReadConfiguration(configPath, flagSet)
	if err != nil {
		return err
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	store, err = persistence.NewStore(globalConfig)
	return err
}

func closeStore(cmd *cobra.Command, args []string) {
	if store != nil {
		store.Close()
	}
}

func printJSON(v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(raw))
}

func main() {
	rootCmd := &cobra.Command{
		Use:               "clamor-admin",
		Short:             "administer clamor servers, channels and members",
		PersistentPreRunE: openStore,
		PersistentPostRun: closeStore,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")

	serverCmd := &cobra.Command{Use: "server", Short: "manage servers"}

	var serverName, serverOwner, serverVisibility string
	serverCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "create a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverName == "" || serverOwner == "" {
				return fmt.Errorf("--name and --owner are required")
			}
			server := &types.Server{Name: serverName, OwnerId: serverOwner, Visibility: serverVisibility}
			if err := store.CreateServer(context.Background(), server); err != nil {
				return err
			}
			printJSON(server)
			return nil
		},
	}
	serverCreateCmd.Flags().StringVar(&serverName, "name", "", "server name")
	serverCreateCmd.Flags().StringVar(&serverOwner, "owner", "", "owner user id")
	serverCreateCmd.Flags().StringVar(&serverVisibility, "visibility", types.VisibilityPrivate, "public or private")

	var listUser string
	serverListCmd := &cobra.Command{
		Use:   "list",
		Short: "list servers visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listUser == "" {
				return fmt.Errorf("--user is required")
			}
			servers, err := store.ServersForUser(context.Background(), listUser)
			if err != nil {
				return err
			}
			printJSON(servers)
			return nil
		},
	}
	serverListCmd.Flags().StringVar(&listUser, "user", "", "user id")
	serverCmd.AddCommand(serverCreateCmd, serverListCmd)

	var channelServer, channelName, channelKind string
	channelCmd := &cobra.Command{Use: "channel", Short: "manage channels"}
	channelCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "create a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if channelServer == "" || channelName == "" {
				return fmt.Errorf("--server and --name are required")
			}
			server := &types.Server{Id: channelServer}
			if err := store.GetServer(context.Background(), server); err != nil {
				return fmt.Errorf("server %s: %w", channelServer, err)
			}
			channel := &types.Channel{ServerId: channelServer, Name: channelName, Kind: channelKind}
			if err := store.CreateChannel(context.Background(), channel); err != nil {
				return err
			}
			printJSON(channel)
			return nil
		},
	}
	channelCreateCmd.Flags().StringVar(&channelServer, "server", "", "server id")
	channelCreateCmd.Flags().StringVar(&channelName, "name", "", "channel name")
	channelCreateCmd.Flags().StringVar(&channelKind, "kind", types.ChannelKindText, "channel kind")
	channelCmd.AddCommand(channelCreateCmd)

	var memberServer, memberUser string
	memberCmd := &cobra.Command{Use: "member", Short: "manage memberships"}
	memberAddCmd := &cobra.Command{
		Use:   "add",
		Short: "add a user to a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if memberServer == "" || memberUser == "" {
				return fmt.Errorf("--server and --user are required")
			}
			membership := types.Membership{ServerId: memberServer, UserId: memberUser}
			err := store.AddMember(context.Background(), membership)
			if err == persistence.ErrDuplicate {
				return fmt.Errorf("user %s is already a member of %s", memberUser, memberServer)
			}
			if err != nil {
				return err
			}
			printJSON(membership)
			return nil
		},
	}
	memberAddCmd.Flags().StringVar(&memberServer, "server", "", "server id")
	memberAddCmd.Flags().StringVar(&memberUser, "user", "", "user id")
	memberCmd.AddCommand(memberAddCmd)

	userCmd := &cobra.Command{Use: "user", Short: "manage users"}
	userShowCmd := &cobra.Command{
		Use:   "show <user id>",
		Short: "show a stored user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := &types.User{Id: args[0]}
			if err := store.GetUser(context.Background(), user); err != nil {
				return err
			}
			printJSON(user)
			return nil
		},
	}
	userCmd.AddCommand(userShowCmd)

	rootCmd.AddCommand(serverCmd, channelCmd, memberCmd, userCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
