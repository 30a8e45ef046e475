package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fetcher resolves a URL into an Item. A false result means the URL was
// unrecognized or the lookup failed; callers do not distinguish the two.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Item, bool)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) (Item, bool)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (Item, bool) { return f(ctx, rawURL) }

const youtubeAPIURL = "https://www.googleapis.com/youtube/v3/videos"

var (
	youtubePatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/.*[?&]v=([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/shorts/([A-Za-z0-9_-]+)`),
		regexp.MustCompile(`youtube\.com/embed/([A-Za-z0-9_-]+)`),
	}
	twitchPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.)?twitch\.tv/(\w+)/?$`)
	kickPattern   = regexp.MustCompile(`^(?:https?://)?(?:www\.)?kick\.com/(\w+)/?$`)
	isoHours      = regexp.MustCompile(`(\d+)H`)
	isoMinutes    = regexp.MustCompile(`(\d+)M`)
	isoSeconds    = regexp.MustCompile(`(\d+)S`)
)

// URLFetcher recognizes YouTube, Twitch, Kick and whitelisted raw video URLs.
type URLFetcher struct {
	client        *http.Client
	log           *slog.Logger
	youtubeAPIKey string
	apiURL        string
	rawWhitelist  []string
	ffprobePath   string
}

// URLFetcherConfig configures NewURLFetcher.
type URLFetcherConfig struct {
	YouTubeAPIKey string
	// RawWhitelist lists URL prefixes from which .mp4/.webm files are accepted.
	RawWhitelist []string
	// FFprobePath is used to read raw video durations. Empty disables raw videos.
	FFprobePath string
	Timeout     time.Duration
}

// NewURLFetcher returns a Fetcher backed by the public platform APIs.
func NewURLFetcher(cfg URLFetcherConfig, log *slog.Logger) *URLFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &URLFetcher{
		client:        &http.Client{Timeout: cfg.Timeout},
		log:           log,
		youtubeAPIKey: cfg.YouTubeAPIKey,
		apiURL:        youtubeAPIURL,
		rawWhitelist:  cfg.RawWhitelist,
		ffprobePath:   cfg.FFprobePath,
	}
}

// Fetch implements Fetcher.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (Item, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if m := twitchPattern.FindStringSubmatch(rawURL); m != nil {
		ch := m[1]
		return NewLive("https://www.twitch.tv/"+ch, ch, ch, ch, TypeTwitch), true
	}
	if m := kickPattern.FindStringSubmatch(rawURL); m != nil {
		user := m[1]
		u := "https://kick.com/" + user
		return NewLive(u, u, user, "https://player.kick.com/"+user, TypeIframe), true
	}
	if id, ok := YouTubeID(rawURL); ok {
		return f.fetchYouTube(ctx, id, rawURL)
	}
	return f.fetchRaw(ctx, rawURL)
}

// YouTubeID extracts the video id from any of the common YouTube URL shapes.
func YouTubeID(rawURL string) (string, bool) {
	for _, p := range youtubePatterns {
		if m := p.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

type youtubeResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (f *URLFetcher) fetchYouTube(ctx context.Context, id, originalURL string) (Item, bool) {
	if f.youtubeAPIKey == "" {
		f.log.Warn("youtube api key not configured", slog.String("url", originalURL))
		return Item{}, false
	}

	q := url.Values{}
	q.Set("part", "snippet,contentDetails")
	q.Set("id", id)
	q.Set("key", f.youtubeAPIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		f.log.Warn("youtube request build failed", slog.String("error", err.Error()))
		return Item{}, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("youtube request failed", slog.String("id", id), slog.String("error", err.Error()))
		return Item{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		f.log.Warn("youtube response read failed", slog.String("id", id), slog.String("error", err.Error()))
		return Item{}, false
	}

	var yr youtubeResponse
	if err := json.Unmarshal(body, &yr); err != nil {
		f.log.Warn("youtube response decode failed", slog.String("id", id), slog.String("error", err.Error()))
		return Item{}, false
	}
	if yr.Error != nil || resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if yr.Error != nil {
			msg = yr.Error.Message
		}
		f.log.Error("youtube api error", slog.String("id", id), slog.String("error", msg))
		return Item{}, false
	}
	if len(yr.Items) == 0 {
		f.log.Warn("youtube video not found", slog.String("id", id))
		return Item{}, false
	}

	it := yr.Items[0]
	dur := ParseISODuration(it.ContentDetails.Duration)
	if dur == 0 {
		return NewLive("https://www.youtube.com/watch?v="+id, it.Snippet.Title, it.Snippet.ChannelTitle,
			"https://www.youtube.com/embed/"+id, TypeIframe), true
	}
	return Item{
		URL:      originalURL,
		Title:    it.Snippet.Title,
		Author:   it.Snippet.ChannelTitle,
		Duration: dur,
		ID:       id,
		Type:     TypeYouTube,
	}, true
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *URLFetcher) fetchRaw(ctx context.Context, rawURL string) (Item, bool) {
	if f.ffprobePath == "" || !f.whitelisted(rawURL) {
		return Item{}, false
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasSuffix(lower, ".mp4") && !strings.HasSuffix(lower, ".webm") {
		return Item{}, false
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, "-v", "quiet", "-print_format", "json", "-show_format", rawURL)
	out, err := cmd.Output()
	if err != nil {
		f.log.Warn("ffprobe failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return Item{}, false
	}
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		f.log.Warn("ffprobe output decode failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return Item{}, false
	}
	dur, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil || dur <= 0 {
		f.log.Warn("ffprobe returned no duration", slog.String("url", rawURL))
		return Item{}, false
	}
	return Item{URL: rawURL, Title: rawURL, Duration: dur, Type: TypeRaw}, true
}

func (f *URLFetcher) whitelisted(rawURL string) bool {
	for _, prefix := range f.rawWhitelist {
		if prefix != "" && strings.HasPrefix(rawURL, prefix) {
			return true
		}
	}
	return false
}

// ParseISODuration converts an ISO-8601 duration such as "PT1H2M3S" to seconds.
func ParseISODuration(s string) float64 {
	total := 0
	if m := isoHours.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n * 3600
	}
	if m := isoMinutes.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n * 60
	}
	if m := isoSeconds.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n
	}
	return float64(total)
}

// String is used in log lines.
func (i Item) String() string {
	if i.IsLive() {
		return fmt.Sprintf("%s (live)", i.URL)
	}
	return fmt.Sprintf("%s (%.0fs)", i.URL, i.Duration)
}
