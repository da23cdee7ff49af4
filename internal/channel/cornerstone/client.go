// Package cornerstone implements the channel client for Cornerstone OnDemand
// via its flat-file feed: CSV files dropped on an SFTP host, picked up by the
// channel's scheduled loader. There is no per-item acknowledgment, so a chunk
// succeeds or fails as a whole, and the channel infers deletions from the
// complete feed — it declares FullResync.
package cornerstone

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"channel-sync/internal/channel"
	"channel-sync/internal/domain"
	"channel-sync/internal/sftpclient"
)

const defaultPageLimit = 1000

type Client struct {
	configID  string
	sftp      sftpclient.Config
	pageLimit int
	log       zerolog.Logger

	// upload is swapped out in tests.
	upload func(ctx context.Context, cfg sftpclient.Config, r *bytes.Buffer, name string) error
}

func New(cfg domain.ChannelConfiguration, log zerolog.Logger) *Client {
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	return &Client{
		configID: cfg.ID,
		sftp: sftpclient.Config{
			Host:      cfg.Credentials.SFTPHost,
			Port:      cfg.Credentials.SFTPPort,
			User:      cfg.Credentials.SFTPUser,
			Pass:      cfg.Credentials.SFTPPass,
			RemoteDir: cfg.Credentials.SFTPRemoteDir,
		},
		pageLimit: limit,
		log:       log,
		upload: func(ctx context.Context, cfg sftpclient.Config, r *bytes.Buffer, name string) error {
			return sftpclient.Upload(ctx, cfg, r, name)
		},
	}
}

func (c *Client) Name() string           { return "cornerstone" }
func (c *Client) PageLimit() int         { return c.pageLimit }
func (c *Client) MaxRemoteIDLength() int { return 50 }
func (c *Client) FullResync() bool       { return true }

func (c *Client) sendContentFeed(ctx context.Context, items []domain.ContentItem, status, kind string) ([]channel.Outcome, error) {
	var buf bytes.Buffer
	if err := WriteContentCSV(&buf, items, status); err != nil {
		return nil, fmt.Errorf("cornerstone: build %s feed: %w", kind, err)
	}

	name := fmt.Sprintf("%s_%s_%s.csv", c.configID, kind, time.Now().UTC().Format("20060102T150405"))
	if err := c.upload(ctx, c.sftp, &buf, name); err != nil {
		// SFTP failures affect the whole file; every item retries next run.
		return channel.ItemOutcomes(items, channel.StatusRetryable, err.Error()), nil
	}

	c.log.Info().Str("file", name).Int("items", len(items)).Msg("uploaded content feed")
	return channel.ItemOutcomes(items, channel.StatusOK, ""), nil
}

func (c *Client) CreateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendContentFeed(ctx, items, "Active", "courses")
}

func (c *Client) UpdateContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendContentFeed(ctx, items, "Active", "courses")
}

func (c *Client) DeleteContent(ctx context.Context, items []domain.ContentItem) ([]channel.Outcome, error) {
	return c.sendContentFeed(ctx, items, "Inactive", "courses_retired")
}

func (c *Client) SendCompletions(ctx context.Context, records []domain.CompletionRecord) ([]channel.Outcome, error) {
	var buf bytes.Buffer
	if err := WriteCompletionCSV(&buf, records); err != nil {
		return nil, fmt.Errorf("cornerstone: build completion feed: %w", err)
	}

	name := fmt.Sprintf("%s_completions_%s.csv", c.configID, time.Now().UTC().Format("20060102T150405"))
	if err := c.upload(ctx, c.sftp, &buf, name); err != nil {
		return channel.CompletionOutcomes(records, channel.StatusRetryable, err.Error()), nil
	}

	c.log.Info().Str("file", name).Int("records", len(records)).Msg("uploaded completion feed")
	return channel.CompletionOutcomes(records, channel.StatusOK, ""), nil
}
