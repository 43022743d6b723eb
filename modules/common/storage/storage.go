package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
	"golang.org/x/sync/errgroup"
)

// maxBlobBytes - 레퍼런스 이미지 1장 최대 크기
const maxBlobBytes = 20 << 20

const fetchParallelism = 4

// Blob - 모델에 첨부할 이미지 바이너리
type Blob struct {
	Data      []byte
	MIMEType  string
	SourceURL string
}

type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewFetcher - 레퍼런스 이미지 다운로더 생성
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// FetchAll - URL 목록을 병렬로 다운로드. 실패한 이미지는 건너뛰고 순서는 유지
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Blob {
	results := make([]*Blob, len(urls))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fetchParallelism)
	for i, url := range urls {
		eg.Go(func() error {
			blob, err := f.Fetch(egCtx, url)
			if err != nil {
				logrus.WithError(err).WithField("url", url).Warn("⚠️  [Storage] Reference image skipped")
				return nil
			}
			results[i] = blob
			return nil
		})
	}
	_ = eg.Wait()

	blobs := make([]Blob, 0, len(urls))
	for _, b := range results {
		if b != nil {
			blobs = append(blobs, *b)
		}
	}
	logrus.WithFields(logrus.Fields{"requested": len(urls), "fetched": len(blobs)}).
		Info("📥 [Storage] Reference images downloaded")
	return blobs
}

// Fetch - 단일 이미지 다운로드 (요청별 타임아웃)
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Blob, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBlobBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image body")
	}
	if len(data) > maxBlobBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxBlobBytes)
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("unexpected content type %s", mimeType)
	}

	return &Blob{Data: data, MIMEType: mimeType, SourceURL: url}, nil
}

type Uploader struct {
	supabase *supabase.Client
	bucket   string
}

// NewUploader - 생성 이미지 업로더 (Supabase Storage)
func NewUploader(client *supabase.Client, bucket string) *Uploader {
	return &Uploader{supabase: client, bucket: bucket}
}

// Upload - generated/<uuid>.<ext> 경로로 업로드 후 public URL 반환
func (u *Uploader) Upload(ctx context.Context, data []byte, contentType, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := fmt.Sprintf("generated/%s.%s", uuid.NewString(), ext)
	upsert := false

	logrus.WithFields(logrus.Fields{"bucket": u.bucket, "path": path, "bytes": len(data)}).
		Info("📤 [Storage] Uploading generated image")

	if _, err := u.supabase.Storage.UploadFile(u.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	publicURL := u.supabase.Storage.GetPublicUrl(u.bucket, path).SignedURL
	logrus.WithField("url", publicURL).Info("✅ [Storage] Generated image uploaded")
	return publicURL, nil
}
