package google

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/mirror"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// filesAPI abstracts the Drive upload call we use, enabling test mocks.
type filesAPI interface {
	Create(ctx context.Context, name string, parents []string, media io.Reader) (link string, err error)
}

// realFiles wraps *drive.Service to implement filesAPI.
type realFiles struct {
	svc *drive.Service
}

func (r *realFiles) Create(ctx context.Context, name string, parents []string, media io.Reader) (string, error) {
	f, err := r.svc.Files.Create(&drive.File{Name: name, Parents: parents}).
		Media(media).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return f.WebViewLink, nil
}

// DriveArchive implements mirror.PhotoArchive by downloading the photo from
// the chat platform and uploading it to a Drive folder.
type DriveArchive struct {
	files    filesAPI
	fetcher  chat.PhotoFetcher
	folderID string
	now      func() time.Time
}

// DriveOpts holds parameters for creating a DriveArchive.
type DriveOpts struct {
	CredentialsFile string
	FolderID        string // optional; root of the service account's drive when empty
	Fetcher         chat.PhotoFetcher
	ClientOptions   []option.ClientOption
	// For testing: inject a mock files API and clock.
	Files filesAPI
	Now   func() time.Time
}

// NewDriveArchive creates a DriveArchive backed by the Drive API.
func NewDriveArchive(ctx context.Context, opts DriveOpts) (*DriveArchive, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("google: drive: photo fetcher is required")
	}

	files := opts.Files
	if files == nil {
		if opts.CredentialsFile == "" {
			return nil, fmt.Errorf("google: drive: credentials file is required")
		}
		auth, err := serviceAccountOption(ctx, opts.CredentialsFile, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("google: drive: %w", err)
		}
		clientOpts := append([]option.ClientOption{auth}, opts.ClientOptions...)
		svc, err := drive.NewService(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("google: drive: create service: %w", err)
		}
		files = &realFiles{svc: svc}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &DriveArchive{
		files:    files,
		fetcher:  opts.Fetcher,
		folderID: opts.FolderID,
		now:      now,
	}, nil
}

// Archive uploads the photo as "<machine>_<YYYYMMDD_HHMMSS>.jpg" and returns
// its web view link.
func (d *DriveArchive) Archive(ctx context.Context, photoRef, machineName string) (string, error) {
	body, err := d.fetcher.FetchPhoto(ctx, photoRef)
	if err != nil {
		return "", fmt.Errorf("google: drive: %w", err)
	}
	defer body.Close()

	var parents []string
	if d.folderID != "" {
		parents = []string{d.folderID}
	}

	name := mirror.ArchiveName(machineName, d.now())
	link, err := d.files.Create(ctx, name, parents, body)
	if err != nil {
		return "", fmt.Errorf("google: drive: upload %s: %w", name, err)
	}
	return link, nil
}
