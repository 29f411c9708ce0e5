package r2

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/domain"
)

var jpegPayload = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}, bytes.Repeat([]byte{0x11}, 64)...)

type putRecord struct {
	path        string
	contentType string
	meta        map[string]string
	body        []byte
}

// fakeS3 answers path-style S3 PUTs. failures queues 400 responses ahead of
// the first success.
type fakeS3 struct {
	mu       sync.Mutex
	puts     []putRecord
	failures int
}

func (f *fakeS3) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, `<LocationConstraint>auto</LocationConstraint>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, putRecord{
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			meta: map[string]string{
				"creator-id":   r.Header.Get("X-Amz-Meta-Creator-Id"),
				"media-pk":     r.Header.Get("X-Amz-Meta-Media-Pk"),
				"original-url": r.Header.Get("X-Amz-Meta-Original-Url"),
			},
			body: body,
		})
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeS3) records() []putRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putRecord(nil), f.puts...)
}

func newTestStore(t *testing.T, s3 *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(s3.handler())
	t.Cleanup(srv.Close)

	st, err := New(Config{
		Endpoint:      strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:   "test-key",
		SecretKey:     "test-secret",
		Bucket:        "media-bucket",
		PublicBaseURL: "https://media.example.com/",
		Insecure:      true,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
		ImageTimeout:  5 * time.Second,
		VideoTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	st.Now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return st
}

func newCDN(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngest_ImageSniffsTypeAndBuildsKey(t *testing.T) {
	s3 := &fakeS3{}
	st := newTestStore(t, s3)
	cdn := newCDN(t, "application/octet-stream", jpegPayload)

	got, err := st.Ingest(context.Background(), domain.MediaSource{
		URL:       cdn.URL + "/p/raw",
		Class:     domain.ClassImage,
		CreatorID: "cr1",
		MediaPK:   "pk1",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/images/2026/08/cr1/pk1.jpg", got)

	recs := s3.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "/media-bucket/images/2026/08/cr1/pk1.jpg", recs[0].path)
	assert.Equal(t, "image/jpeg", recs[0].contentType)
	assert.Equal(t, "cr1", recs[0].meta["creator-id"])
	assert.Equal(t, "pk1", recs[0].meta["media-pk"])
	assert.Equal(t, cdn.URL+"/p/raw", recs[0].meta["original-url"])
	assert.True(t, bytes.Contains(recs[0].body, jpegPayload))
}

func TestIngest_VideoUsesHeaderTypeAndURLExt(t *testing.T) {
	s3 := &fakeS3{}
	st := newTestStore(t, s3)
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	cdn := newCDN(t, "video/mp4", payload)

	got, err := st.Ingest(context.Background(), domain.MediaSource{
		URL:       cdn.URL + "/v/reel.mp4",
		Class:     domain.ClassVideo,
		CreatorID: "cr2",
		MediaPK:   "pk2",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/videos/2026/08/cr2/pk2.mp4", got)

	recs := s3.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "video/mp4", recs[0].contentType)
	assert.True(t, bytes.Contains(recs[0].body, payload))
}

func TestIngest_CarouselIndexInKey(t *testing.T) {
	s3 := &fakeS3{}
	st := newTestStore(t, s3)
	cdn := newCDN(t, "image/jpeg", jpegPayload)

	got, err := st.Ingest(context.Background(), domain.MediaSource{
		URL:       cdn.URL + "/p/slide",
		Class:     domain.ClassImage,
		CreatorID: "cr3",
		MediaPK:   "pk3",
		Index:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/images/2026/08/cr3/pk3_2.jpg", got)
}

func TestIngest_RetriesUploadOnce(t *testing.T) {
	s3 := &fakeS3{failures: 1}
	st := newTestStore(t, s3)
	cdn := newCDN(t, "image/jpeg", jpegPayload)

	_, err := st.Ingest(context.Background(), domain.MediaSource{
		URL:       cdn.URL + "/p/raw",
		Class:     domain.ClassProfile,
		CreatorID: "cr4",
		MediaPK:   "pk4",
	})
	require.NoError(t, err)
	assert.Len(t, s3.records(), 1)
}

func TestIngest_UploadFailureAfterRetries(t *testing.T) {
	s3 := &fakeS3{failures: 10}
	st := newTestStore(t, s3)
	cdn := newCDN(t, "image/jpeg", jpegPayload)

	_, err := st.Ingest(context.Background(), domain.MediaSource{
		URL:       cdn.URL + "/p/raw",
		Class:     domain.ClassImage,
		CreatorID: "cr5",
		MediaPK:   "pk5",
	})
	require.Error(t, err)
	assert.Empty(t, s3.records())
}

func TestIngest_DownloadFailure(t *testing.T) {
	s3 := &fakeS3{}
	st := newTestStore(t, s3)
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(cdn.Close)

	_, err := st.Ingest(context.Background(), domain.MediaSource{
		URL:       cdn.URL + "/gone.jpg",
		Class:     domain.ClassImage,
		CreatorID: "cr6",
		MediaPK:   "pk6",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Empty(t, s3.records())
}

func TestIngest_ValidatesSource(t *testing.T) {
	st := newTestStore(t, &fakeS3{})

	_, err := st.Ingest(context.Background(), domain.MediaSource{Class: domain.ClassImage})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestNew_RequiresEndpointAndBucket(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDisabled_Ingest(t *testing.T) {
	_, err := Disabled{}.Ingest(context.Background(), domain.MediaSource{URL: "x", CreatorID: "c", MediaPK: "p"})
	assert.ErrorIs(t, err, domain.ErrDisabled)
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	key := objectKey(domain.MediaSource{Class: domain.ClassVideo, CreatorID: "9", MediaPK: "m"}, ".mp4", now)
	assert.Equal(t, "videos/2026/01/9/m.mp4", key)

	key = objectKey(domain.MediaSource{Class: domain.ClassImage, CreatorID: "9", MediaPK: "m", Index: 3}, ".jpg", now)
	assert.Equal(t, "images/2026/01/9/m_3.jpg", key)
}
