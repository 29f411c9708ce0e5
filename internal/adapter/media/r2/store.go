// Package r2 stores scraped media in an S3-compatible bucket and hands back
// stable public URLs. Cloudflare R2 is the production target; anything
// speaking the S3 wire protocol works, which is also how the tests run.
package r2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/trawlhq/trawl/internal/adapter/observability"
	"github.com/trawlhq/trawl/internal/domain"
)

// Config wires the bucket connection and per-class limits.
type Config struct {
	// Endpoint is the S3 host, e.g. <account>.r2.cloudflarestorage.com.
	Endpoint      string
	AccessKeyID   string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	Insecure      bool

	// MaxRetries is the number of additional upload attempts after the first.
	MaxRetries   int
	RetryDelay   time.Duration
	ImageTimeout time.Duration
	VideoTimeout time.Duration
}

func (c *Config) defaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 30 * time.Second
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = 90 * time.Second
	}
}

// Store implements domain.MediaStore. Images pass through memory; videos
// spool to a temp file so a 200MB reel never lives on the heap.
type Store struct {
	cfg Config
	mc  *minio.Client
	hc  *http.Client

	Now func() time.Time
}

var _ domain.MediaStore = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("op=r2.new: %w: endpoint, bucket and public url required", domain.ErrInvalidArgument)
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretKey, ""),
		Secure: !cfg.Insecure,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("op=r2.new: %w", err)
	}
	// Download deadlines come from the per-call context, not the client.
	return &Store{cfg: cfg, mc: mc, hc: &http.Client{}, Now: time.Now}, nil
}

// Ingest downloads src.URL and uploads it under a deterministic key. The
// returned URL is public and stable; re-ingesting the same media writes the
// same key.
func (s *Store) Ingest(ctx domain.Context, src domain.MediaSource) (string, error) {
	const op = "r2.ingest"
	if src.URL == "" || src.CreatorID == "" || src.MediaPK == "" {
		return "", fmt.Errorf("op=%s: %w: url, creator and media pk required", op, domain.ErrInvalidArgument)
	}
	timeout := s.cfg.ImageTimeout
	if src.Class == domain.ClassVideo {
		timeout = s.cfg.VideoTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := s.download(dctx, src)
	if err != nil {
		observability.MediaUploadsTotal.WithLabelValues(string(src.Class), "download_error").Inc()
		return "", err
	}
	defer p.close()

	key := objectKey(src, p.ext, s.Now().UTC())
	if err := s.upload(dctx, src, key, p); err != nil {
		observability.MediaUploadsTotal.WithLabelValues(string(src.Class), "upload_error").Inc()
		return "", err
	}
	observability.MediaUploadsTotal.WithLabelValues(string(src.Class), "ok").Inc()
	observability.MediaUploadBytes.Add(float64(p.size))
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key, nil
}

// payload is a downloaded object that can be re-read across upload attempts.
type payload struct {
	data        []byte
	file        *os.File
	size        int64
	contentType string
	ext         string
}

func (p *payload) reader() (io.Reader, error) {
	if p.file != nil {
		if _, err := p.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return p.file, nil
	}
	return bytes.NewReader(p.data), nil
}

func (p *payload) close() {
	if p.file != nil {
		name := p.file.Name()
		_ = p.file.Close()
		_ = os.Remove(name)
	}
}

func (s *Store) download(ctx domain.Context, src domain.MediaSource) (*payload, error) {
	const op = "r2.download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=%s class=%s: %w", op, src.Class, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=%s class=%s: status %d: %w", op, src.Class, resp.StatusCode, domain.ErrUpstream)
	}

	p := &payload{}
	var sniffed *mimetype.MIME
	if src.Class == domain.ClassVideo {
		tmp, err := os.CreateTemp("", "trawl-media-*")
		if err != nil {
			return nil, fmt.Errorf("op=%s: temp file: %w", op, err)
		}
		size, err := io.Copy(tmp, resp.Body)
		if err != nil {
			p.file = tmp
			p.close()
			return nil, fmt.Errorf("op=%s: %w", op, err)
		}
		p.file, p.size = tmp, size
		if sniffed, err = mimetype.DetectFile(tmp.Name()); err != nil {
			sniffed = nil
		}
	} else {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("op=%s: %w", op, err)
		}
		p.data, p.size = data, int64(len(data))
		sniffed = mimetype.Detect(data)
	}

	ct := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if (ct == "" || ct == "application/octet-stream") && sniffed != nil {
		ct = sniffed.String()
	}
	p.contentType = ct
	if sniffed != nil {
		p.ext = sniffed.Extension()
	}
	if p.ext == "" || p.ext == ".bin" {
		p.ext = fallbackExt(src)
	}
	return p, nil
}

func (s *Store) upload(ctx domain.Context, src domain.MediaSource, key string, p *payload) error {
	origin := src.URL
	if len(origin) > 200 {
		origin = origin[:200]
	}
	opts := minio.PutObjectOptions{
		ContentType: p.contentType,
		UserMetadata: map[string]string{
			"creator-id":   src.CreatorID,
			"media-pk":     src.MediaPK,
			"original-url": origin,
		},
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxRetries)), ctx)
	op := func() error {
		r, err := p.reader()
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := s.mc.PutObject(ctx, s.cfg.Bucket, key, r, p.size, opts); err != nil {
			slog.Warn("media upload attempt failed",
				slog.String("key", key),
				slog.Any("error", err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("op=r2.upload %s: %w", key, err)
	}
	return nil
}

var classPrefix = map[domain.MediaClass]string{
	domain.ClassImage:   "images",
	domain.ClassVideo:   "videos",
	domain.ClassProfile: "profiles",
}

// objectKey lays objects out as {class}/{year}/{month}/{creator}/{media_pk}.
// Carousel entries append their position so siblings never collide.
func objectKey(src domain.MediaSource, ext string, now time.Time) string {
	name := src.MediaPK
	if src.Index > 0 {
		name = fmt.Sprintf("%s_%d", src.MediaPK, src.Index)
	}
	prefix := classPrefix[src.Class]
	if prefix == "" {
		prefix = "media"
	}
	return fmt.Sprintf("%s/%04d/%02d/%s/%s%s", prefix, now.Year(), int(now.Month()), src.CreatorID, name, ext)
}

func fallbackExt(src domain.MediaSource) string {
	if u, err := url.Parse(src.URL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if src.Class == domain.ClassVideo {
		return ".mp4"
	}
	return ".jpg"
}
