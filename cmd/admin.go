package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"brokerage-mail-ingestor/internal/caseengine"
	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/store"
)

var (
	brokerName string
	brokerRole string
)

var brokerCmd = &cobra.Command{
	Use:   "broker <email>",
	Short: "Register or update a profile that the case engine can assign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *store.Store) error {
			p := models.BrokerProfile{ID: uuid.NewString(), Email: args[0], FullName: brokerName, Role: brokerRole}
			if err := s.UpsertBroker(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s profile %s\n", p.Role, p.Email)
			return nil
		})
	},
}

var routingCmd = &cobra.Command{
	Use:   "routing <ramo_bucket> <master_user_id>",
	Short: "Assign the master user that receives cases of a classifier bucket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket := caseengine.MasterBucket(args[0])
		return withStore(cmd, func(s *store.Store) error {
			if err := s.SetMasterRouting(cmd.Context(), models.MasterRouting{Bucket: bucket, MasterUserID: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Routing %s → %s\n", bucket, args[1])
			return nil
		})
	},
}

func init() {
	brokerCmd.Flags().StringVar(&brokerName, "name", "", "full name")
	brokerCmd.Flags().StringVar(&brokerRole, "role", models.RoleBroker, "profile role")
}

func withStore(cmd *cobra.Command, fn func(s *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
