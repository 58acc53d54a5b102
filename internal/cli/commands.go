package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwall/driftwall/internal/config"
	"github.com/driftwall/driftwall/internal/engine"
	"github.com/driftwall/driftwall/internal/store"
)

// openEngine opens the database and builds an engine from the config.
// Callers must Close the returned DB.
func openEngine() (*store.DB, *engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = os.Getenv("DRIFTWALL_DB")
	}
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}

	eng, err := engine.New(db, cfg.Engine, nil)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, eng, nil
}

// --- rank command ---

var rankLimit int

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rebuild the download queue from the current preferences",
	RunE:  runRank,
}

func runRank(cmd *cobra.Command, args []string) error {
	db, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	entries, err := eng.RebuildQueue(ctx)
	if err != nil {
		return fmt.Errorf("rebuild queue: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty — import some candidates first.")
		return nil
	}

	limit := rankLimit
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	fmt.Printf("Queue rebuilt: %d entries\n\n", len(entries))
	for i, e := range entries[:limit] {
		marker := " "
		if e.Downloaded {
			marker = "*"
		}
		fmt.Printf("%3d. [%.3f]%s %s\n", i+1, e.Priority, marker, e.ID)
	}
	return nil
}

// --- feedback command ---

var feedbackDuration time.Duration

var feedbackCmd = &cobra.Command{
	Use:   "feedback [like|dislike|implicit] [candidate-id]",
	Short: "Record a feedback event",
	Args:  cobra.ExactArgs(2),
	RunE:  runFeedback,
}

func runFeedback(cmd *cobra.Command, args []string) error {
	kind, err := engine.ParseFeedbackKind(args[0])
	if err != nil {
		return err
	}

	db, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	fb := engine.Feedback{CandidateID: args[1], Kind: kind, Duration: feedbackDuration}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := eng.RecordFeedback(ctx, fb)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	fmt.Printf("Recorded %s for %s (feedback count: %d, version: %d)\n",
		kind, args[1], state.FeedbackCount, state.Version)
	return nil
}

// --- queue command ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the current download queue",
	RunE:  runQueue,
}

func runQueue(cmd *cobra.Command, args []string) error {
	db, _, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.LoadQueue()
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty. Run `driftwall rank` to build it.")
		return nil
	}

	for i, e := range entries {
		status := "pending"
		if e.Downloaded {
			status = "downloaded"
		} else if e.RetryCount > 0 {
			status = fmt.Sprintf("retry %d", e.RetryCount)
		}
		fmt.Printf("%3d. [%.3f] %s (%s)\n", i+1, e.Priority, e.ID, status)
	}
	return nil
}

// --- reset command ---

var resetConfirmed bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard all learned preferences",
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetConfirmed {
		return fmt.Errorf("re-run with --yes to confirm: this discards everything learned")
	}

	db, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	state, err := eng.Reset()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	fmt.Printf("Preferences reset (mode: %s, version: %d)\n", state.Mode, state.Version)
	return nil
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import [file.json]",
	Short: "Import candidates from a feature-extractor JSON dump",
	Long:  "Import wallpaper candidates (id, embedding, colors, category, brightness, contrast, composition) from a JSON array produced by the upstream feature extractor.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var candidates []engine.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	db, eng, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	dim := eng.Config().Dim
	imported, skipped := 0, 0
	for _, c := range candidates {
		if c.ID == "" || len(c.Embedding) != dim {
			fmt.Fprintf(os.Stderr, "skipping %q: missing id or wrong embedding dimension\n", c.ID)
			skipped++
			continue
		}
		if err := db.UpsertCandidate(c); err != nil {
			return fmt.Errorf("import %s: %w", c.ID, err)
		}
		imported++
	}

	fmt.Printf("Imported %d candidates (%d skipped)\n", imported, skipped)
	return nil
}

func init() {
	rankCmd.Flags().IntVarP(&rankLimit, "limit", "n", 20, "How many queue entries to print")
	feedbackCmd.Flags().DurationVar(&feedbackDuration, "duration", 0, "Display duration (implicit feedback only)")
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "Confirm the reset")
}
