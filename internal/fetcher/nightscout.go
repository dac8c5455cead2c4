package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	entriesPath    = "/api/v1/entries/sgv.json"
	treatmentsPath = "/api/v1/treatments.json"

	// entryCount covers enough samples to derive a 5-minute slope even when
	// the CGM skips a reading.
	entryCount = 4
)

// NightscoutOptions parameterise the Nightscout client. APISecret is the raw
// secret (hashed before sending); APIToken is a role-based access token used
// instead when UseToken is set.
type NightscoutOptions struct {
	BaseURL   string
	APISecret string
	APIToken  string
	UseToken  bool
	Timeout   time.Duration
	UserAgent string
}

// Nightscout fetches glucose entries and treatments from a Nightscout site.
type Nightscout struct {
	opts    NightscoutOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewNightscout constructs a Nightscout client.
func NewNightscout(opts NightscoutOptions, logger zerolog.Logger) *Nightscout {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Nightscout{
		opts:    opts,
		logger:  logger.With().Str("component", "nightscout").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchGlucose returns the most recent sensor glucose value with a trend
// slope derived from the preceding entry.
func (n *Nightscout) FetchGlucose(ctx context.Context) (Reading, error) {
	var entries []sgvEntry
	if err := n.getJSON(ctx, entriesPath, url.Values{"count": {fmt.Sprint(entryCount)}}, &entries); err != nil {
		return Reading{}, err
	}
	if len(entries) == 0 {
		return Reading{}, errors.New("nightscout returned no glucose entries")
	}

	latest := entries[0]
	reading := Reading{
		BG:        latest.SGV,
		Direction: latest.Direction,
		ReadAt:    time.UnixMilli(latest.Date),
	}

	// Prefer the device-reported delta; fall back to the previous entry
	// rescaled to a 5-minute window.
	if latest.Delta != 0 {
		reading.Slope5Min = latest.Delta
	} else if len(entries) > 1 {
		prev := entries[1]
		gapMinutes := float64(latest.Date-prev.Date) / 60000
		if gapMinutes > 0 && gapMinutes <= 15 {
			reading.Slope5Min = (latest.SGV - prev.SGV) / gapMinutes * 5
		}
	}

	return reading, nil
}

// FetchTreatments returns insulin and carb treatments created at or after
// since, oldest first.
func (n *Nightscout) FetchTreatments(ctx context.Context, since time.Time) ([]Treatment, error) {
	query := url.Values{
		"count":                  {"200"},
		"find[created_at][$gte]": {since.UTC().Format(time.RFC3339)},
	}

	var raw []treatmentEntry
	if err := n.getJSON(ctx, treatmentsPath, query, &raw); err != nil {
		return nil, err
	}

	treatments := make([]Treatment, 0, len(raw))
	for _, t := range raw {
		if t.Insulin == 0 && t.Carbs == 0 {
			continue
		}
		at, err := t.createdAt()
		if err != nil {
			n.logger.Warn().Str("created_at", t.CreatedAt).Msg("skip treatment with bad timestamp")
			continue
		}
		treatments = append(treatments, Treatment{
			At:           at,
			InsulinUnits: t.Insulin,
			CarbGrams:    t.Carbs,
			FatG:         t.Fat,
			ProteinG:     t.Protein,
			FiberG:       t.Fiber,
			DurationMin:  int(t.Duration),
			EventType:    t.EventType,
		})
	}

	// Nightscout returns newest first.
	for i, j := 0, len(treatments)-1; i < j; i, j = i+1, j-1 {
		treatments[i], treatments[j] = treatments[j], treatments[i]
	}

	return treatments, nil
}

func (n *Nightscout) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if n.baseURL == "" {
		return errors.New("nightscout base URL required")
	}

	if n.opts.UseToken && n.opts.APIToken != "" {
		query.Set("token", n.opts.APIToken)
	}

	endpoint := n.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(n.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "glucowatch/1.0")
	}
	if !n.opts.UseToken && n.opts.APISecret != "" {
		sum := sha1.Sum([]byte(n.opts.APISecret))
		req.Header.Set("API-SECRET", hex.EncodeToString(sum[:]))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}

	return json.Unmarshal(payload, out)
}

type sgvEntry struct {
	SGV       float64 `json:"sgv"`
	Date      int64   `json:"date"`
	Delta     float64 `json:"delta"`
	Direction string  `json:"direction"`
}

type treatmentEntry struct {
	EventType string  `json:"eventType"`
	CreatedAt string  `json:"created_at"`
	Insulin   float64 `json:"insulin"`
	Carbs     float64 `json:"carbs"`
	Fat       float64 `json:"fat"`
	Protein   float64 `json:"protein"`
	Fiber     float64 `json:"fiber"`
	Duration  float64 `json:"duration"`
}

func (t treatmentEntry) createdAt() (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if at, err := time.Parse(layout, t.CreatedAt); err == nil {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", t.CreatedAt)
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("nightscout api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("nightscout api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("nightscout api error (%d)", status)
}

var (
	_ GlucoseFetcher   = (*Nightscout)(nil)
	_ TreatmentFetcher = (*Nightscout)(nil)
)
