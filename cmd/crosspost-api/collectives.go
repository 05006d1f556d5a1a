package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/crosspost/internal/collectives"
	"github.com/MarcoPoloResearchLab/crosspost/internal/config"
	"github.com/MarcoPoloResearchLab/crosspost/internal/database"
	"github.com/MarcoPoloResearchLab/crosspost/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// withDirectory opens the configured database for a single administrative command.
func withDirectory(ctx context.Context, fn func(context.Context, *collectives.Directory) error) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	directory, err := collectives.NewDirectory(db)
	if err != nil {
		return err
	}
	return fn(ctx, directory)
}

func newCreateCollectiveCommand() *cobra.Command {
	var collective collectives.Collective
	cmd := &cobra.Command{
		Use:   "create-collective",
		Short: "Create a collective and make its owner a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd.Context(), func(ctx context.Context, directory *collectives.Directory) error {
				if err := directory.CreateCollective(ctx, collective); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created collective %s\n", collective.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&collective.ID, "id", "", "Collective id")
	cmd.Flags().StringVar(&collective.Slug, "slug", "", "Collective slug")
	cmd.Flags().StringVar(&collective.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&collective.OwnerID, "owner", "", "Owner member id")
	markRequired(cmd, "id", "slug", "name", "owner")
	return cmd
}

func newSetRoleCommand() *cobra.Command {
	var groupID, memberID, rawRole string
	cmd := &cobra.Command{
		Use:   "set-role",
		Short: "Grant a member a role in a collective",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd.Context(), func(ctx context.Context, directory *collectives.Directory) error {
				role, err := grantRole(ctx, directory, groupID, memberID, rawRole)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s in %s\n", memberID, role, groupID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "Collective id")
	cmd.Flags().StringVar(&memberID, "member", "", "Member id")
	cmd.Flags().StringVar(&rawRole, "role", "", "Role (owner, admin, editor, author)")
	markRequired(cmd, "group", "member", "role")
	return cmd
}

func newRemoveMemberCommand() *cobra.Command {
	var groupID, memberID string
	cmd := &cobra.Command{
		Use:   "remove-member",
		Short: "Remove a member from a collective",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDirectory(cmd.Context(), func(ctx context.Context, directory *collectives.Directory) error {
				return directory.RemoveMember(ctx, groupID, memberID)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "Collective id")
	cmd.Flags().StringVar(&memberID, "member", "", "Member id")
	markRequired(cmd, "group", "member")
	return cmd
}

// grantRole parses operator input before writing the membership.
func grantRole(ctx context.Context, directory *collectives.Directory, groupID, memberID, rawRole string) (collectives.Role, error) {
	role, err := collectives.ParseRole(rawRole)
	if err != nil {
		return "", err
	}
	if err := directory.SetRole(ctx, groupID, memberID, role); err != nil {
		return "", err
	}
	return role, nil
}

func markRequired(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		if err := cmd.MarkFlagRequired(flag); err != nil {
			panic(err)
		}
	}
}
