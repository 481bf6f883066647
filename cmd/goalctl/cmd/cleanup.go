package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendwell/companion/internal/repository"
	"github.com/tendwell/companion/internal/service"
)

func CleanupCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Archive goals completed longer ago than GOAL_CLEANUP_AGE",
		Long: "Archives stale completed goals for one user with --user, " +
			"or for every user when --user is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			goals := service.NewGoalService(repository.NewGoalRepository(database), cfg.GoalCleanupAge)

			var count int
			if userID != "" {
				count, err = goals.CleanupCompletedGoals(cmd.Context(), userID)
			} else {
				count, err = goals.SweepCompletedGoals(cmd.Context())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d goals\n", count)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "only clean up this user's goals")
	return cmd
}
