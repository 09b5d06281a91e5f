package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dyluth/pacer/internal/printer"
	"github.com/dyluth/pacer/internal/state"
	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/spf13/cobra"
)

var (
	latestURL  string
	latestJSON bool
)

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest sample held by a running bridge",
	Long: `Fetch GET /latest-data from a running bridge and print it.

Examples:
  pacer latest
  pacer latest --url http://bridge:8000 --json`,
	RunE: runLatest,
}

func init() {
	latestCmd.Flags().StringVar(&latestURL, "url", "http://localhost:8000", "Base URL of the bridge API")
	latestCmd.Flags().BoolVar(&latestJSON, "json", false, "Print the raw JSON response")
	rootCmd.AddCommand(latestCmd)
}

func runLatest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	result, err := fetchLatest(ctx, http.DefaultClient, latestURL)
	if err != nil {
		return printer.Error(
			"Failed to fetch latest sample",
			err.Error(),
			[]printer.Field{{Key: "URL", Value: latestURL}},
			"Check that 'pacer bridge' is running",
		)
	}

	if latestJSON {
		printer.Info("%s\n", strings.TrimSpace(string(result.raw)))
		return nil
	}

	if result.sample != nil {
		printer.Sample(*result.sample)
	} else {
		printer.Waiting(result.placeholder.Status, result.placeholder.TimestampMs)
	}
	return nil
}

type latestResult struct {
	raw         []byte
	sample      *telemetry.Sample
	placeholder state.Placeholder
}

// fetchLatest reads /latest-data. 503 with a placeholder body is a valid
// "no data yet" answer, not an error.
func fetchLatest(ctx context.Context, client *http.Client, baseURL string) (*latestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/latest-data", nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &latestResult{raw: raw}
	switch resp.StatusCode {
	case http.StatusOK:
		var sample telemetry.Sample
		if err := json.Unmarshal(raw, &sample); err != nil {
			return nil, fmt.Errorf("failed to decode sample: %w", err)
		}
		result.sample = &sample
	case http.StatusServiceUnavailable:
		if err := json.Unmarshal(raw, &result.placeholder); err != nil {
			return nil, fmt.Errorf("failed to decode placeholder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return result, nil
}
