package adapters

import (
	"context"
	"fmt"
)

const figmaAPI = "https://api.figma.com/v1"

// Figma is a client for the Figma REST API.
type Figma struct {
	headers map[string]string
}

var _ Pinger = (*Figma)(nil)

func NewFigma(token string) *Figma {
	return &Figma{headers: map[string]string{"X-Figma-Token": token}}
}

// TestConnection fetches the token owner.
func (f *Figma) TestConnection(ctx context.Context) error {
	var me map[string]any
	if err := doJSON(ctx, "GET", figmaAPI+"/me", f.headers, nil, &me); err != nil {
		return fmt.Errorf("figma connection test: %w", err)
	}
	return nil
}

// GetFileVersions lists recent versions of a file.
func (f *Figma) GetFileVersions(ctx context.Context, fileKey string, limit int) (map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	var out map[string]any
	u := fmt.Sprintf("%s/files/%s/versions?page_size=%d", figmaAPI, fileKey, limit)
	err := doJSON(ctx, "GET", u, f.headers, nil, &out)
	return out, err
}

// PostComment adds a comment to a file.
func (f *Figma) PostComment(ctx context.Context, fileKey, message string) error {
	u := fmt.Sprintf("%s/files/%s/comments", figmaAPI, fileKey)
	return doJSON(ctx, "POST", u, f.headers, map[string]any{"message": message}, nil)
}
