package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and clean up events",
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats <event-id>",
	Short: "Show cluster and face counts of an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsStats,
}

var eventsDeleteCmd = &cobra.Command{
	Use:   "delete <event-id>",
	Short: "Delete all clusters and faces of an event",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsDelete,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsStatsCmd)
	eventsCmd.AddCommand(eventsDeleteCmd)

	eventsStatsCmd.Flags().Bool("json", false, "Output as JSON")
	eventsDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

type statsOutput struct {
	EventID      string `json:"event_id"`
	Revision     int64  `json:"revision"`
	ClusterCount int    `json:"cluster_count"`
	FaceCount    int    `json:"face_count"`
}

func runEventsStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.EventStats(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reading event stats: %w", err)
	}

	out := statsOutput{EventID: args[0], Revision: stats.Revision, ClusterCount: stats.ClusterCount, FaceCount: stats.FaceCount}
	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}
	fmt.Printf("Event:    %s\n", out.EventID)
	fmt.Printf("Clusters: %d\n", out.ClusterCount)
	fmt.Printf("Faces:    %d\n", out.FaceCount)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runEventsDelete(cmd *cobra.Command, args []string) error {
	eventID := args[0]

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.EventStats(ctx, eventID)
	if err != nil {
		return fmt.Errorf("reading event stats: %w", err)
	}
	if stats.ClusterCount == 0 && stats.FaceCount == 0 {
		fmt.Printf("Event %s is empty\n", eventID)
		return nil
	}

	if !mustGetBool(cmd, "yes") &&
		!confirm(fmt.Sprintf("Delete %d clusters and %d faces of event %s?", stats.ClusterCount, stats.FaceCount, eventID)) {
		fmt.Println("Aborted")
		return nil
	}

	if err := store.DeleteEvent(ctx, eventID); err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	log.Info().Str("event_id", eventID).Int("clusters", stats.ClusterCount).Int("faces", stats.FaceCount).Msg("event deleted")
	fmt.Printf("Deleted event %s\n", eventID)
	return nil
}
