package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Veraticus/opsflow/internal/cli"
	"github.com/Veraticus/opsflow/internal/model"
)

func companiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companies",
		Short: "Manage the companies events are ingested for",
	}
	cmd.AddCommand(companiesAddCmd())
	cmd.AddCommand(companiesListCmd())
	return cmd
}

func companiesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			owner, _ := cmd.Flags().GetString("owner")
			tenant, _ := cmd.Flags().GetString("tenant")
			threshold, _ := cmd.Flags().GetFloat64("approval-threshold")

			if id == "" {
				id = uuid.NewString()
			}
			if tenant == "" {
				tenant = id
			}

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			company := &model.Company{
				ID:                id,
				OwnerID:           owner,
				TenantID:          tenant,
				Name:              args[0],
				ApprovalThreshold: threshold,
			}
			if err := store.SaveCompany(cmd.Context(), company); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Company %s registered as %s", company.Name, company.ID)))
			return nil
		},
	}

	cmd.Flags().String("id", "", "company ID (default: a new UUID)")
	cmd.Flags().String("owner", "", "owning user ID (required)")
	cmd.Flags().String("tenant", "", "tenant ID (default: the company ID)")
	cmd.Flags().Float64("approval-threshold", 0, "amount above which expenses need approval (0 uses pipeline.approval_threshold)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func companiesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the companies a user owns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, _ := cmd.Flags().GetString("owner")

			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			companies, err := store.ListCompanies(cmd.Context(), owner)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTENANT\tAPPROVAL THRESHOLD")
			for _, c := range companies {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", c.ID, c.Name, c.TenantID, c.ApprovalThreshold)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("owner", "", "owning user ID (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
