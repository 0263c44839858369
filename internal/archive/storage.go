package archive

import (
	"bytes"
	"fmt"
	"strings"

	storage "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// Uploader stores one object.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// SupabaseStorage uploads to a Supabase Storage bucket. The underlying client
// mutates shared headers per upload, so calls must not overlap.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseStorage(url, key, bucket string) (*SupabaseStorage, error) {
	if url == "" || key == "" || bucket == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL, SUPABASE_KEY and ARCHIVE_BUCKET required")
	}
	client, err := supabase.NewClient(strings.TrimRight(url, "/"), key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: bucket}, nil
}

func (s *SupabaseStorage) Upload(key, contentType string, data []byte) error {
	upsert := true
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}
