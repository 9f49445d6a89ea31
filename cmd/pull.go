package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// newPullCommand is the cron-side client: it asks a running server to scrape
// everything after the last id it saw and remembers the marker.
func newPullCommand() *cobra.Command {
	var serverURL, key, idFile string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:         "pull",
		Short:       "Trigger a scrape on a running server and record the last id",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if key == "" {
				key = os.Getenv("QBN_ADMIN_KEY")
			}
			if key == "" {
				return errors.New("an admin key is required (--key or QBN_ADMIN_KEY)")
			}
			client := &http.Client{Timeout: timeout}
			return pull(cmd.Context(), client, serverURL, key, idFile, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "Base URL of the qbnotify server")
	cmd.Flags().StringVar(&key, "key", "", "Admin key (defaults to QBN_ADMIN_KEY)")
	cmd.Flags().StringVar(&idFile, "file", "lastID", "File holding the last id seen")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall request timeout")
	return cmd
}

func pull(ctx context.Context, client *http.Client, serverURL, key, idFile string, out io.Writer) error {
	last, err := readLastID(idFile)
	if err != nil {
		return err
	}

	q := url.Values{"key": {key}, "start": {strconv.Itoa(last + 1)}}
	endpoint := strings.TrimRight(serverURL, "/") + "/sn?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request scrape: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var final string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(out, line)
		final = line
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	marker, err := strconv.Atoi(final)
	if err != nil {
		return fmt.Errorf("response ended without a marker (last line %q); %s left unchanged", final, idFile)
	}
	return os.WriteFile(idFile, []byte(strconv.Itoa(marker)+"\n"), 0644)
}

// readLastID treats a missing file as "nothing seen yet".
func readLastID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%s does not hold an id: %w", path, err)
	}
	return n, nil
}
