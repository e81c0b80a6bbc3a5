package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// healthData mirrors the /healthz payload.
type healthData struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	QueueDepth        int    `json:"queue_depth"`
	PendingTranscodes int    `json:"pending_transcodes"`
	TranscoderVersion string `json:"transcoder_version"`
}

// attemptData mirrors one entry of the /admin/recent payload.
type attemptData struct {
	Name       string    `json:"name"`
	GUID       string    `json:"guid"`
	Age        uint32    `json:"age"`
	Version    string    `json:"version"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type recentData struct {
	Attempts []attemptData `json:"attempts"`
}

type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *apiClient) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) health() (healthData, error) {
	var h healthData
	err := c.getJSON("/healthz", &h)
	return h, err
}

func (c *apiClient) recent(limit int) ([]attemptData, error) {
	var r recentData
	err := c.getJSON(fmt.Sprintf("/admin/recent?limit=%d", limit), &r)
	return r.Attempts, err
}
