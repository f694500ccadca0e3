package main

import (
	"go-flowdesk/internal/app"
	"go-flowdesk/internal/definition"
	"go-flowdesk/internal/domain"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"
)

var seedOwner string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Store a sample onboarding definition and a workflow instantiated from it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		core := app.New(app.Options{Store: rt.store, Logger: rt.logger})

		def := definition.NewDefinition("Employee onboarding", "Sample three-step onboarding flow", true, onboardingSteps(seedOwner))
		def.CreatedBy = seedOwner
		if err := core.Definitions.SaveDefinition(ctx, def); err != nil {
			return err
		}
		wf, err := core.Definitions.Instantiate(ctx, def.ID, "")
		if err != nil {
			return err
		}
		rt.logger.Info("seed data stored", "definition_id", def.ID, "workflow_id", wf.ID)
		cmd.Printf("definition %s\nworkflow   %s\n", def.ID, wf.ID)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedOwner, "owner", "admin", "User assigned to the seeded steps")
}

func onboardingSteps(owner string) []domain.StepTemplate {
	minutes := 30
	return []domain.StepTemplate{
		{
			Order:    1,
			Name:     "Collect documents",
			Kind:     domain.StepKindTask,
			Assignee: &owner,
			Config:   datatypes.JSON(`{"required_fields":["employee_name"]}`),
		},
		{
			Order:            2,
			Name:             "Manager approval",
			Kind:             domain.StepKindApproval,
			Assignee:         &owner,
			EstimatedMinutes: &minutes,
			Config:           datatypes.JSON(`{"min_approvers":1}`),
		},
		{
			// No assignee: an administrator picks someone at runtime.
			Order: 3,
			Name:  "Provision accounts",
			Kind:  domain.StepKindTask,
		},
	}
}
