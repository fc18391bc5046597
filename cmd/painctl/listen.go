package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/painmgmt-api/pkg/messaging"
	"github.com/jwalitptl/painmgmt-api/pkg/messaging/redis"
)

func listenCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print notifications published to a role channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Redis.URL == "" {
				return fmt.Errorf("listen needs redis.url")
			}
			broker, err := redis.NewRedisBroker(redis.Config{
				URL:        cfg.Redis.URL,
				MaxRetries: cfg.Redis.MaxRetries,
			}, log)
			if err != nil {
				return err
			}
			pub := messaging.NewPublisher(broker)
			defer pub.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			channel := "notifications:role:" + strings.ToUpper(role)
			err = pub.Subscribe(ctx, channel, func(msg messaging.Message) error {
				cmd.Printf("%s %s\n", msg.Type, msg.Payload)
				return nil
			})
			if err != nil {
				return err
			}
			cmd.Printf("listening on %s\n", channel)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "DOCTOR", "role channel to follow")
	return cmd
}
