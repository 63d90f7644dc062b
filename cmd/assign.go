package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/spf13/cobra"
)

var assignCmd = &cobra.Command{
	Use:   "assign <event-id> <embedding>",
	Short: "Assign a single face to a cluster",
	Long: `Assigns one face embedding (JSON array or comma-separated numbers) to
the nearest cluster of the event, or starts a new cluster. With --image the
face is also recorded in the audit log.`,
	Args: cobra.ExactArgs(2),
	RunE: runAssign,
}

func init() {
	rootCmd.AddCommand(assignCmd)

	assignCmd.Flags().String("image", "", "Image reference to record the face under")
	assignCmd.Flags().Int("face-index", 0, "Index of the face within the image")
	assignCmd.Flags().Bool("json", false, "Output as JSON")
}

type assignOutput struct {
	EventID     string  `json:"event_id"`
	ClusterID   int64   `json:"cluster_id"`
	Created     bool    `json:"created"`
	Distance    float64 `json:"distance"`
	MemberCount int     `json:"member_count"`
	FaceID      string  `json:"face_id,omitempty"`
}

func runAssign(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	vec, err := parseEmbedding(args[1])
	if err != nil {
		return err
	}
	imageRef := mustGetString(cmd, "image")

	ctx := context.Background()
	_, store, engine, err := setup(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var a clustering.Assignment
	if imageRef == "" {
		a, err = engine.Assign(ctx, eventID, vec)
	} else {
		a, err = engine.AssignDetected(ctx, eventID, clustering.Face{
			ImageRef:  imageRef,
			Index:     mustGetInt(cmd, "face-index"),
			Embedding: vec,
		})
	}
	if err != nil && a.ClusterID != 0 {
		return fmt.Errorf("face assigned to cluster %d (%d members) but not recorded: %w",
			a.ClusterID, a.MemberCount, err)
	}
	if err != nil {
		return fmt.Errorf("assigning face: %w", err)
	}

	out := assignOutput{
		EventID:     eventID,
		ClusterID:   a.ClusterID,
		Created:     a.Created,
		Distance:    a.Distance,
		MemberCount: a.MemberCount,
		FaceID:      a.FaceID,
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	if a.Created {
		fmt.Printf("New cluster %d\n", a.ClusterID)
	} else {
		fmt.Printf("Cluster %d (distance %.4f, %d members)\n", a.ClusterID, a.Distance, a.MemberCount)
	}
	if a.FaceID != "" {
		fmt.Printf("Face: %s\n", a.FaceID)
	}
	return nil
}
