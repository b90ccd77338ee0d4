package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
)

// --- extract command ---

var extractCmd = &cobra.Command{
	Use:   "extract [user]",
	Short: "Extract signals from pending messages (all users when none given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		userID := ""
		if len(args) == 1 {
			user, err := resolveUser(db, args[0])
			if err != nil {
				return err
			}
			userID = user.ID
		}
		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}
		if !pipe.HasProvider() {
			fmt.Println("No LLM provider available: pending messages will be marked with zero signals.")
		}

		res := pipe.ExtractPending(context.Background(), userID)
		fmt.Printf("Processed %d messages: %d signals, %d failed\n", res.Messages, res.Signals, res.Errors)
		return nil
	},
}

// --- insights command ---

var insightsCmd = &cobra.Command{
	Use:   "insights <user>",
	Short: "Recompute and show a user's insight summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		user, err := resolveUser(db, args[0])
		if err != nil {
			return err
		}
		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}

		state, err := pipe.RefreshInsights(context.Background(), user.ID)
		if err != nil {
			return err
		}
		fmt.Printf("%s (level %d)\n\n", user.Name, user.Level)
		fmt.Printf("  Top interest:        %s\n", state.TopInterest)
		fmt.Printf("  Productivity score:  %.1f\n", state.ProductivityScore)
		fmt.Printf("  Entertainment ratio: %.0f%%\n", state.EntertainmentRatio*100)
		fmt.Printf("  Trend:               %s\n", state.CurrentTrend)
		fmt.Printf("\n%s\n", state.LastReflection)
		return nil
	},
}

// --- map command ---

var (
	mapJSON     bool
	mapMarkdown bool
)

var mapCmd = &cobra.Command{
	Use:   "map <user>",
	Short: "Build a user's behavior map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mapJSON && mapMarkdown {
			return fmt.Errorf("--json and --markdown are mutually exclusive")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		user, err := resolveUser(db, args[0])
		if err != nil {
			return err
		}
		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}

		payload, err := pipe.BuildMap(context.Background(), user.ID)
		if err != nil {
			return err
		}

		switch {
		case mapJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		case mapMarkdown:
			fmt.Println(behaviormap.Markdown(*payload))
		default:
			printMap(payload)
		}
		return nil
	},
}

func init() {
	mapCmd.Flags().BoolVar(&mapJSON, "json", false, "Print the full payload as JSON")
	mapCmd.Flags().BoolVar(&mapMarkdown, "markdown", false, "Print a markdown report")
}

func printMap(p *behaviormap.Payload) {
	fmt.Printf("%s (%s)\n", p.Center.Name, p.Center.Label)
	fmt.Printf("\n%s\n", p.Highlight)

	fmt.Println("\nNodes:")
	for _, n := range p.Nodes {
		fmt.Printf("  %-18s %-6s %5.1f  %s\n", n.Label, n.State, n.Score, n.Summary)
	}

	if len(p.Edges) > 0 {
		labels := make(map[string]string, len(p.Nodes))
		for _, n := range p.Nodes {
			labels[n.ID] = n.Label
		}
		fmt.Println("\nConnections:")
		for _, e := range p.Edges {
			fmt.Printf("  %s -> %s (%s, %.0f)\n", labels[e.Source], labels[e.Target], e.Strength, e.Score)
		}
	}

	if p.GrowthPath != nil {
		fmt.Printf("\nGrowth path: %s\n  %s\n", p.GrowthPath.Label, p.GrowthPath.Suggestion)
	}
	if p.Reflection != "" {
		fmt.Printf("\n%s\n", p.Reflection)
	}
}
