package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// EvidenceStore keeps result/dispute evidence objects (screenshots, demos).
// The engine stores only the returned keys; arbiters review through the
// public URL.
type EvidenceStore interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	GetPublicURL(key string) string
}

// EvidenceKey builds the object key for one evidence file of a match.
func EvidenceKey(tournamentID, matchID int, contentType string) string {
	ext := extensionFor(contentType)
	return fmt.Sprintf("evidence/t%d/m%d/%s%s", tournamentID, matchID, uuid.NewString(), ext)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		parts := strings.Split(contentType, "/")
		if len(parts) == 2 && parts[1] != "" {
			return "." + strings.Split(parts[1], "+")[0]
		}
		return ".bin"
	}
}
