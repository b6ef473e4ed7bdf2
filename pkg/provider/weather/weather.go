// Package weather wraps the OpenWeatherMap current-weather API and the text
// heuristics that decide when a chat message is asking about the weather.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const defaultEndpoint = "https://api.openweathermap.org/data/2.5/weather"

// ErrCityNotFound is returned when the API does not know the city, including
// after the soft-sign retry.
var ErrCityNotFound = errors.New("weather: city not found")

// Report is a current-weather snapshot for one city.
type Report struct {
	City        string
	Description string
	Temp        float64
	FeelsLike   float64
	Humidity    int
	WindSpeed   float64
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithEndpoint overrides the API endpoint. Used by tests.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the OpenWeatherMap API. Safe for concurrent use.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// New creates a Client. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("weather: apiKey must not be empty")
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type owmResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Current fetches the current weather for city. Russian city names often lose
// their trailing soft sign in speech transcription ("Казан" for "Казань"),
// so a 404 is retried once with "ь" appended.
func (c *Client) Current(ctx context.Context, city string) (*Report, error) {
	rep, err := c.fetch(ctx, city)
	if errors.Is(err, ErrCityNotFound) && !strings.HasSuffix(city, "ь") {
		if rep2, err2 := c.fetch(ctx, city+"ь"); err2 == nil {
			return rep2, nil
		}
	}
	return rep, err
}

func (c *Client) fetch(ctx context.Context, city string) (*Report, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("weather: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "ru")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("weather: %q: %w", city, ErrCityNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather: status %d", resp.StatusCode)
	}

	var owm owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&owm); err != nil {
		return nil, fmt.Errorf("weather: decode response: %w", err)
	}

	rep := &Report{
		City:      owm.Name,
		Temp:      owm.Main.Temp,
		FeelsLike: owm.Main.FeelsLike,
		Humidity:  owm.Main.Humidity,
		WindSpeed: owm.Wind.Speed,
	}
	if len(owm.Weather) > 0 {
		rep.Description = owm.Weather[0].Description
	}
	return rep, nil
}

// Format renders the report as a prompt context block.
func (r *Report) Format() string {
	return fmt.Sprintf(
		"Погода в %s: %s, %.0f°C (ощущается как %.0f°C), влажность %d%%, ветер %.1f м/с",
		r.City, r.Description, r.Temp, r.FeelsLike, r.Humidity, r.WindSpeed)
}

// ── query heuristics ──

var weatherKeywords = []string{
	"погод", "температур", "градус", "холодно", "жарко",
	"дождь", "снег", "weather",
}

var cityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)погод[аыеу]?\s+(?:в|во)\s+([а-яёa-z-]+)`),
	regexp.MustCompile(`(?i)(?:в|во)\s+([а-яёa-z-]+)\s+погод`),
	regexp.MustCompile(`(?i)температур[аыеу]?\s+(?:в|во)\s+([а-яёa-z-]+)`),
}

// IsWeatherQuery reports whether the message looks like a weather question.
func IsWeatherQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range weatherKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractCity pulls a candidate city name out of the message. The result is
// in whatever grammatical case the user typed; callers normalise it before
// the API lookup. Returns "" when no city is mentioned.
func ExtractCity(text string) string {
	for _, re := range cityPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
