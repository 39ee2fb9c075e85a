package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/opsflow/internal/cli"
	"github.com/Veraticus/opsflow/internal/growth"
)

func briefingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "briefing",
		Short: "Compile and print a morning or evening briefing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			asJSON, _ := cmd.Flags().GetBool("json")

			a, _, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			b, err := a.Briefings.Compile(cmd.Context(), user)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBriefing(b))
			return nil
		},
	}

	cmd.Flags().String("user", "", "user to brief (required)")
	cmd.Flags().Bool("json", false, "print the briefing as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func growthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "growth",
		Short: "Print growth insights and an optional content plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			asJSON, _ := cmd.Flags().GetBool("json")
			topic, _ := cmd.Flags().GetString("topic")
			platform, _ := cmd.Flags().GetString("platform")
			tone, _ := cmd.Flags().GetString("tone")

			content := &growth.ContentRequest{Topic: topic, Platform: platform, Tone: tone}

			a, _, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Growth.Analyze(cmd.Context(), user, content)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderGrowth(res))
			return nil
		},
	}

	cmd.Flags().String("user", "", "user to analyze (required)")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	cmd.Flags().String("topic", "", "request a content plan about this topic")
	cmd.Flags().String("platform", "", "content platform (instagram, linkedin, twitter, facebook, tiktok)")
	cmd.Flags().String("tone", "", "content tone (friendly, professional, playful, inspiring)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
