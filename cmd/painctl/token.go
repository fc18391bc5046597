package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/auth"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	var (
		role string
		name string
		id   string
		ttl  time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed access token for a clinician",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := model.ParseRole(role)
			if err != nil {
				return err
			}
			actorID := uuid.New()
			if id != "" {
				if actorID, err = uuid.Parse(id); err != nil {
					return err
				}
			}

			svc, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer)
			if err != nil {
				return err
			}
			token, err := svc.GenerateAccessToken(model.Actor{ID: actorID, Name: name, Role: r}, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&role, "role", "", "NURSE, DOCTOR or ANESTHESIOLOGIST")
	issueCmd.Flags().StringVar(&name, "name", "", "display name")
	issueCmd.Flags().StringVar(&id, "id", "", "actor id (random when empty)")
	issueCmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = issueCmd.MarkFlagRequired("role")

	cmd.AddCommand(issueCmd)
	return cmd
}
