package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/vidfriends/streamgate/internal/models"
)

const (
	// DefaultWatchURL expands a source identifier into the page yt-dlp extracts from.
	DefaultWatchURL = "https://www.youtube.com/watch?v=%s"
	// DefaultFormat prefers 720p mp4 and falls back to anything playable.
	DefaultFormat = "best[ext=mp4][height<=720]/best[ext=mp4]/best"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// YTDLPProvider looks up metadata and resolves stream URLs using the yt-dlp CLI.
type YTDLPProvider struct {
	Binary   string
	Args     []string
	Format   string
	WatchURL string
	Run      CommandRunner
	Timeout  time.Duration
}

// NewYTDLPProvider constructs a provider that shells out to yt-dlp.
func NewYTDLPProvider(binary string, timeout time.Duration) *YTDLPProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPProvider{
		Binary:   binary,
		Args:     []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download"},
		Format:   DefaultFormat,
		WatchURL: DefaultWatchURL,
		Run:      defaultCommandRunner,
		Timeout:  timeout,
	}
}

// Lookup fetches descriptive metadata for a source identifier.
func (p *YTDLPProvider) Lookup(ctx context.Context, sourceID string) (Metadata, error) {
	if p == nil {
		return Metadata{}, ErrProviderUnavailable
	}

	out, err := p.exec(ctx, sourceID)
	if err != nil {
		return Metadata{}, err
	}

	var payload struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Thumbnail   string `json:"thumbnail"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Metadata{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}

	if payload.Title == "" && payload.Description == "" && payload.Thumbnail == "" {
		return Metadata{}, errors.New("yt-dlp returned empty metadata")
	}

	return Metadata{
		Title:       payload.Title,
		Description: payload.Description,
		Thumbnail:   payload.Thumbnail,
	}, nil
}

// Resolve extracts a direct media URL plus the request headers the upstream
// expects. The top-level selection wins; otherwise the last mp4 format, then
// the last format carrying a URL.
func (p *YTDLPProvider) Resolve(ctx context.Context, sourceID string) (models.Resolution, error) {
	if p == nil {
		return models.Resolution{}, ErrResolverUnavailable
	}

	format := p.Format
	if format == "" {
		format = DefaultFormat
	}

	out, err := p.exec(ctx, sourceID, "-f", format)
	if err != nil {
		return models.Resolution{}, err
	}

	var payload struct {
		URL         string            `json:"url"`
		HTTPHeaders map[string]string `json:"http_headers"`
		Formats     []struct {
			URL         string            `json:"url"`
			Ext         string            `json:"ext"`
			HTTPHeaders map[string]string `json:"http_headers"`
		} `json:"formats"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return models.Resolution{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}

	if payload.URL != "" {
		return models.Resolution{URL: payload.URL, Headers: toHeader(payload.HTTPHeaders)}, nil
	}

	pick := func(match func(ext string) bool) (models.Resolution, bool) {
		for i := len(payload.Formats) - 1; i >= 0; i-- {
			f := payload.Formats[i]
			if f.URL == "" || !match(f.Ext) {
				continue
			}
			headers := f.HTTPHeaders
			if headers == nil {
				headers = payload.HTTPHeaders
			}
			return models.Resolution{URL: f.URL, Headers: toHeader(headers)}, true
		}
		return models.Resolution{}, false
	}

	if res, ok := pick(func(ext string) bool { return ext == "mp4" }); ok {
		return res, nil
	}
	if res, ok := pick(func(string) bool { return true }); ok {
		return res, nil
	}
	return models.Resolution{}, ErrNoStream
}

func (p *YTDLPProvider) exec(ctx context.Context, sourceID string, extra ...string) ([]byte, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, errors.New("source id must be provided")
	}
	if p.Run == nil {
		p.Run = defaultCommandRunner
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, p.Args...)
	args = append(args, extra...)
	args = append(args, p.watchURL(sourceID))

	out, err := p.Run(execCtx, p.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp fetch: %w", err)
	}
	return out, nil
}

func (p *YTDLPProvider) watchURL(sourceID string) string {
	tmpl := p.WatchURL
	if tmpl == "" {
		tmpl = DefaultWatchURL
	}
	return fmt.Sprintf(tmpl, url.QueryEscape(sourceID))
}

func toHeader(values map[string]string) http.Header {
	if len(values) == 0 {
		return nil
	}
	h := make(http.Header, len(values))
	for k, v := range values {
		h.Set(k, v)
	}
	return h
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}

var (
	_ Provider = (*YTDLPProvider)(nil)
	_ Resolver = (*YTDLPProvider)(nil)
)
