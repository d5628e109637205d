package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/status"
	"github.com/muurk/devboot/internal/version"
)

// Watch subscribes to a device's /events stream and delivers each status
// snapshot on the returned channel. The channel closes when the stream ends
// or ctx is cancelled.
func Watch(ctx context.Context, client *http.Client, baseURL string) (<-chan status.Snapshot, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream: unexpected status %s", resp.Status)
	}

	out := make(chan status.Snapshot, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var event, data string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if event == EventName && data != "" {
					var snap status.Snapshot
					if err := json.Unmarshal([]byte(data), &snap); err != nil {
						logging.Warn("Malformed status event", zap.Error(err))
					} else {
						select {
						case out <- snap:
						case <-ctx.Done():
							return
						}
					}
				}
				event, data = "", ""
			case strings.HasPrefix(line, ":"):
				// keep-alive comment
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logging.Warn("Event stream ended", zap.Error(err))
		}
	}()
	return out, nil
}
