package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters <event-id>",
	Short: "List the clusters of an event",
	Long:  `Lists every cluster of an event, largest first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runClusters,
}

func init() {
	rootCmd.AddCommand(clustersCmd)

	clustersCmd.Flags().Bool("json", false, "Output as JSON")
	clustersCmd.Flags().Bool("faces", false, "Also list the faces recorded for each cluster")
}

type clusterOutput struct {
	ID          int64        `json:"id"`
	MemberCount int          `json:"member_count"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Faces       []faceOutput `json:"faces,omitempty"`
}

type faceOutput struct {
	ID        string   `json:"id"`
	ClusterID int64    `json:"cluster_id"`
	ImageRef  string   `json:"image_ref"`
	FaceIndex int      `json:"face_index"`
	Distance  *float64 `json:"distance,omitempty"`
}

func runClusters(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	withFaces := mustGetBool(cmd, "faces")

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

	snap, err := store.ListClusters(ctx, eventID)
	if err != nil {
		return fmt.Errorf("listing clusters: %w", err)
	}

	out := make([]clusterOutput, 0, len(snap.Clusters))
	for _, c := range snap.Clusters {
		co := clusterOutput{ID: c.ID, MemberCount: c.MemberCount, UpdatedAt: c.UpdatedAt}
		if withFaces {
			faces, err := store.ListFaces(ctx, eventID, c.ID)
			if err != nil {
				return fmt.Errorf("listing faces of cluster %d: %w", c.ID, err)
			}
			for _, f := range faces {
				co.Faces = append(co.Faces, faceOutput{ID: f.ID, ClusterID: f.ClusterID, ImageRef: f.ImageRef, FaceIndex: f.FaceIndex})
			}
		}
		out = append(out, co)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	if len(out) == 0 {
		fmt.Printf("Event %s has no clusters\n", eventID)
		return nil
	}
	fmt.Printf("Event %s: %d clusters\n\n", eventID, len(out))
	for _, c := range out {
		fmt.Printf("  Cluster %-6d %4d members  (updated %s)\n", c.ID, c.MemberCount, c.UpdatedAt.Format(time.DateTime))
		for _, f := range c.Faces {
			fmt.Printf("      %s #%d\n", f.ImageRef, f.FaceIndex)
		}
	}
	return nil
}
