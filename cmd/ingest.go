package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kozaktomas/facesnap/internal/ingest"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest --event <event-id> [file]",
	Short: "Assign a batch of detected faces to clusters",
	Long: `Reads feature extractor output as JSON Lines, one detected face per line:

  {"image_ref": "uploads/img_001.jpg", "face_index": 0, "embedding": [0.01, ...]}

Every face is assigned to a cluster of the event and recorded. Reads stdin
when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("event", "", "Event ID (required)")
	ingestCmd.Flags().Int("workers", 0, "Parallel workers (overrides INGEST_WORKERS)")
	ingestCmd.Flags().Bool("json", false, "Output summary as JSON")
	_ = ingestCmd.MarkFlagRequired("event")
}

type ingestOutput struct {
	BatchID  string `json:"batch_id"`
	EventID  string `json:"event_id"`
	Faces    int    `json:"faces"`
	Created  int    `json:"created"`
	Skipped  int    `json:"skipped"`
	Clusters int    `json:"clusters"`
}

func readIngestInput(args []string) ([]ingest.Record, error) {
	var r io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return ingest.ReadRecords(r)
}

func runIngest(cmd *cobra.Command, args []string) error {
	eventID := mustGetString(cmd, "event")
	jsonOutput := mustGetBool(cmd, "json")

	records, err := readIngestInput(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg, store, engine, err := setup(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	workers := mustGetInt(cmd, "workers")
	if workers <= 0 {
		workers = cfg.Ingest.Workers
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(records),
			progressbar.OptionSetDescription("Assigning faces"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	summary, err := ingest.Run(ctx, engine, eventID, records, ingest.Options{
		Workers: workers,
		OnResult: func(res ingest.Result) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("ingest aborted after %d faces: %w", summary.Faces, err)
	}

	out := ingestOutput{
		BatchID:  summary.BatchID,
		EventID:  eventID,
		Faces:    summary.Faces,
		Created:  summary.Created,
		Skipped:  summary.Skipped,
		Clusters: summary.Clusters,
	}
	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Batch:    %s\n", out.BatchID)
	fmt.Printf("Event:    %s\n", out.EventID)
	fmt.Printf("Faces:    %d\n", out.Faces)
	fmt.Printf("Created:  %d new clusters\n", out.Created)
	fmt.Printf("Clusters: %d touched\n", out.Clusters)
	if out.Skipped > 0 {
		fmt.Printf("Skipped:  %d invalid records (see log)\n", out.Skipped)
	}
	return nil
}
