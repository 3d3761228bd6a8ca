package dracoon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ShareService implements public download/upload shares: anonymous access
// via an access key and optional password, used without an authenticated
// Session. Construct with NewUnauthenticatedClient.
type ShareService struct {
	client *Client
}

// NewShareService wraps an unauthenticated Client.
func NewShareService(client *Client) *ShareService {
	return &ShareService{client: client}
}

// PublicDownloadShare describes a public download share's metadata, as
// returned before the caller supplies a password.
type PublicDownloadShare struct {
	AccessKey   string `json:"accessKey"`
	Name        string `json:"name"`
	IsProtected bool   `json:"isProtected"`
	ExpireAt    string `json:"expireAt,omitempty"`
}

// GetPublicDownloadShare fetches a download share's metadata (GET
// /public/shares/downloads/{accessKey}).
func (s *ShareService) GetPublicDownloadShare(ctx context.Context, accessKey string) (*PublicDownloadShare, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, "/public/shares/downloads/"+accessKey, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out PublicDownloadShare
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding public download share: %w", decErr)
	}

	return &out, nil
}

type downloadShareTokenRequest struct {
	Password string `json:"password,omitempty"`
}

type downloadShareTokenResponse struct {
	DownloadURL string `json:"downloadUrl"`
}

// RequestPublicDownloadURL exchanges an access key (and optional password,
// for protected shares) for a presigned download URL (POST
// /public/shares/downloads/{accessKey}).
func (s *ShareService) RequestPublicDownloadURL(ctx context.Context, accessKey, password string) (string, error) {
	body, err := json.Marshal(downloadShareTokenRequest{Password: password})
	if err != nil {
		return "", fmt.Errorf("dracoon: marshaling download share request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, "/public/shares/downloads/"+accessKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out downloadShareTokenResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return "", fmt.Errorf("dracoon: decoding download share token: %w", decErr)
	}

	return out.DownloadURL, nil
}

// PublicUploadShare describes an upload share's metadata.
type PublicUploadShare struct {
	AccessKey         string `json:"accessKey"`
	Name              string `json:"name"`
	IsProtected       bool   `json:"isProtected"`
	MaxSlots          *int   `json:"maxSlots,omitempty"`
	FilesExpiryPeriod *int   `json:"filesExpiryPeriod,omitempty"`
}

// GetPublicUploadShare fetches an upload share's metadata (GET
// /public/shares/uploads/{accessKey}).
func (s *ShareService) GetPublicUploadShare(ctx context.Context, accessKey string) (*PublicUploadShare, error) {
	resp, err := s.client.Do(ctx, http.MethodGet, "/public/shares/uploads/"+accessKey, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out PublicUploadShare
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding public upload share: %w", decErr)
	}

	return &out, nil
}

type uploadShareChannelRequest struct {
	Password string  `json:"password,omitempty"`
	Name     string  `json:"name"`
	Size     *uint64 `json:"size,omitempty"`
}

// CreatePublicUploadChannel opens a chunked upload against an upload share
// (POST /public/shares/uploads/{accessKey}), reusing the same
// channel/s3_urls/complete/poll protocol as an authenticated upload.
func (s *ShareService) CreatePublicUploadChannel(ctx context.Context, accessKey, password string, meta FileMeta) (*UploadChannel, error) {
	body, err := json.Marshal(uploadShareChannelRequest{Password: password, Name: meta.Name, Size: &meta.Size})
	if err != nil {
		return nil, fmt.Errorf("dracoon: marshaling upload share channel request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPost, "/public/shares/uploads/"+accessKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ch UploadChannel
	if decErr := json.NewDecoder(resp.Body).Decode(&ch); decErr != nil {
		return nil, fmt.Errorf("dracoon: decoding upload share channel: %w", decErr)
	}

	return &ch, nil
}
