package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"github.com/spf13/cobra"
)

var similarCmd = &cobra.Command{
	Use:   "similar <event-id> <embedding>",
	Short: "Find recorded faces similar to an embedding",
	Long: `Searches the recorded faces of an event for those nearest to the given
embedding. Uses an in-memory HNSW index unless FACE_INDEX_ENABLED=false.`,
	Args: cobra.ExactArgs(2),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().Int("limit", 10, "Maximum number of faces to return")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	query, err := parseEmbedding(args[1])
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := embedding.CheckDim(query, cfg.Policy.Dimension); err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var index *database.FaceIndex
	if cfg.Index.Enabled {
		index = database.NewFaceIndex()
	}
	hits, err := database.NewFaceSearch(store, index).Similar(ctx, eventID, query, mustGetInt(cmd, "limit"))
	if err != nil {
		return fmt.Errorf("searching faces: %w", err)
	}

	out := make([]faceOutput, 0, len(hits))
	for _, h := range hits {
		d := h.Distance
		out = append(out, faceOutput{ID: h.Face.ID, ClusterID: h.Face.ClusterID, ImageRef: h.Face.ImageRef, FaceIndex: h.Face.FaceIndex, Distance: &d})
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}

	if len(out) == 0 {
		fmt.Println("No faces found")
		return nil
	}
	for i, f := range out {
		fmt.Printf("%2d. %.4f  cluster %-6d %s #%d\n", i+1, *f.Distance, f.ClusterID, f.ImageRef, f.FaceIndex)
	}
	return nil
}
