package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/pulsemap/internal/insight"
)

// --- users command ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		user, err := db.AddUser(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Added user %s (%s)\n", user.Name, user.ID)
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		users, err := db.ListUsers()
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users yet. Add one with: pulsemap users add <name>")
			return nil
		}
		for _, u := range users {
			fmt.Printf("  %s  %-20s level %d (%d xp)\n", u.ID, u.Name, u.Level, u.XP)
		}
		return nil
	},
}

func init() {
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersListCmd)
}

// --- checkin command ---

var checkinNote string

var checkinCmd = &cobra.Command{
	Use:   "checkin <user> <percentage>",
	Short: "Record a daily pulse check-in (0-100)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pct, err := strconv.ParseFloat(args[1], 64)
		if err != nil || pct < 0 || pct > 100 {
			return fmt.Errorf("percentage must be a number between 0 and 100, got %q", args[1])
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

		if _, err := pipe.RecordCheckIn(context.Background(), user.ID, pct, checkinNote); err != nil {
			return err
		}
		fmt.Printf("Checked in %s at %.0f%%\n", user.Name, pct)
		if strings.TrimSpace(checkinNote) != "" {
			fmt.Println("Note queued for signal extraction.")
		}
		return nil
	},
}

func init() {
	checkinCmd.Flags().StringVarP(&checkinNote, "note", "n", "", "Free-text note about the day")
}

// --- event command ---

var (
	eventCategory string
	eventTopic    string
	eventDuration float64
)

var eventCmd = &cobra.Command{
	Use:   "event <user> <type>",
	Short: "Record an activity event (quest_completed, log_added, check_in, ...)",
	Args:  cobra.ExactArgs(2),
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

		meta := insight.Metadata{Category: eventCategory, Topic: eventTopic}
		if cmd.Flags().Changed("duration") {
			d := eventDuration
			meta.Duration = &d
		}
		e, err := pipe.RecordEvent(context.Background(), user.ID, args[1], meta)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded %s for %s (%s)\n", e.Type, user.Name, e.ID)
		return nil
	},
}

func init() {
	eventCmd.Flags().StringVar(&eventCategory, "category", "", "Event category, e.g. work or gaming")
	eventCmd.Flags().StringVar(&eventTopic, "topic", "", "Event topic")
	eventCmd.Flags().Float64Var(&eventDuration, "duration", 0, "Duration in minutes")
}

// --- quest command ---

var (
	questCategory string
	questNote     string
)

var questCmd = &cobra.Command{
	Use:   "quest",
	Short: "Manage quests",
}

var questAddCmd = &cobra.Command{
	Use:   "add <user> <title>",
	Short: "Create a quest",
	Args:  cobra.ExactArgs(2),
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

		q, err := pipe.AddQuest(context.Background(), user.ID, args[1], questCategory)
		if err != nil {
			return err
		}
		fmt.Printf("Created quest %q (%s)\n", q.Title, q.ID)
		return nil
	},
}

var questProgressCmd = &cobra.Command{
	Use:   "progress <quest-id> <percentage>",
	Short: "Update quest progress",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		progress, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid progress %q: %w", args[1], err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}
		q, err := pipe.ProgressQuest(context.Background(), args[0], progress, questNote)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %.0f%%\n", q.Title, q.Progress)
		return nil
	},
}

var questCompleteCmd = &cobra.Command{
	Use:   "complete <quest-id>",
	Short: "Complete a quest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}
		q, err := pipe.CompleteQuest(context.Background(), args[0], questNote)
		if err != nil {
			return err
		}
		fmt.Printf("Completed %q\n", q.Title)
		return nil
	},
}

func init() {
	questAddCmd.Flags().StringVar(&questCategory, "category", "", "Quest category, e.g. work or health")
	questProgressCmd.Flags().StringVarP(&questNote, "note", "n", "", "Note about the progress")
	questCompleteCmd.Flags().StringVarP(&questNote, "note", "n", "", "Note about the completion")

	questCmd.AddCommand(questAddCmd)
	questCmd.AddCommand(questProgressCmd)
	questCmd.AddCommand(questCompleteCmd)
}

// --- message command ---

var messageCmd = &cobra.Command{
	Use:   "message <user> <text>",
	Short: "Send a chat message and extract its signals",
	Args:  cobra.MinimumNArgs(2),
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

		res, err := pipe.IngestMessage(context.Background(), user.ID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if len(res.Signals) == 0 {
			fmt.Println("No signals found.")
			return nil
		}
		fmt.Println("Signals:")
		for _, s := range res.Signals {
			fmt.Printf("  %-16s intensity %d  confidence %.2f\n", s.Type, s.Intensity, s.Confidence)
		}
		return nil
	},
}
