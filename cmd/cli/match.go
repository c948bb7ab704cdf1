package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/bandprint/pkg/bandprint"
)

var matchJSON bool

var matchCmd = &cobra.Command{
	Use:   "match <audio_file>",
	Short: "Identify a recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

func init() {
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the result as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	start := time.Now()
	res, err := svc.IdentifyFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	log.Debugf("Match took %v", time.Since(start))

	if matchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

func printResult(res bandprint.Result) {
	if !res.Found {
		fmt.Printf("No match (%d fingerprints queried)\n", res.Queried)
		return
	}
	fmt.Printf("Best match: %s\n", res.Best.SongID)
	fmt.Printf("   Votes: %d of %d | Confidence: %.1f%%\n", res.Best.Votes, res.Queried, res.Confidence)
	if len(res.Candidates) > 1 {
		fmt.Println("Other candidates:")
		for i, c := range res.Candidates[1:] {
			fmt.Printf("%d. %s (%d votes)\n", i+2, c.SongID, c.Votes)
		}
	}
}
