package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <event-id> <embedding>",
	Short: "Find the cluster a query face belongs to",
	Long: `Matches a query face against the clusters of an event without
modifying them. Reports the nearest cluster when it is within the
similarity threshold.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Bool("json", false, "Output as JSON")
}

type verifyOutput struct {
	EventID     string  `json:"event_id"`
	Matched     bool    `json:"matched"`
	ClusterID   int64   `json:"cluster_id,omitempty"`
	Distance    float64 `json:"distance"`
	Confidence  float64 `json:"confidence"`
	MemberCount int     `json:"member_count,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	vec, err := parseEmbedding(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, store, engine, err := setup(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := engine.Verify(ctx, eventID, vec)
	if err != nil && !errors.Is(err, clustering.ErrNoSufficientMatch) {
		return fmt.Errorf("verifying face: %w", err)
	}

	out := verifyOutput{
		EventID:     eventID,
		Matched:     err == nil,
		ClusterID:   m.ClusterID,
		Distance:    m.Distance,
		Confidence:  m.Confidence,
		MemberCount: m.MemberCount,
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	if !out.Matched {
		fmt.Printf("No match (closest distance %.4f)\n", m.Distance)
		return nil
	}
	fmt.Printf("Cluster %d\n", m.ClusterID)
	fmt.Printf("  Confidence: %.4f\n", m.Confidence)
	fmt.Printf("  Distance:   %.4f\n", m.Distance)
	fmt.Printf("  Members:    %d\n", m.MemberCount)
	return nil
}
