package export

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveExporter mirrors daily conversation transcripts into a Google Drive
// folder, one Google Doc per day. Re-exporting a day updates its document in
// place; existing documents are resolved by name within the folder, so a
// process restart keeps appending to the same doc instead of creating a
// duplicate.
type DriveExporter struct {
	service  *drive.Service
	folderID string

	mu     sync.Mutex
	docIDs map[string]string
}

func NewDriveExporter(ctx context.Context, credPath, folderID string) (*DriveExporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &DriveExporter{
		service:  svc,
		folderID: folderID,
		docIDs:   make(map[string]string),
	}, nil
}

// Export uploads the transcript at localPath as the document for date.
func (e *DriveExporter) Export(localPath, date string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	docID, err := e.resolveDocLocked(date)
	if err != nil {
		return err
	}

	if docID != "" {
		if _, err := e.service.Files.Update(docID, &drive.File{}).Media(f).Do(); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	doc, err := e.service.Files.Create(&drive.File{
		Name:        docName(date),
		Description: "Conversation transcript exported by nebula-translate",
		MimeType:    "application/vnd.google-apps.document",
		Parents:     []string{e.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	e.docIDs[date] = doc.Id
	return nil
}

// resolveDocLocked returns the document id for a date, consulting the local
// cache first and falling back to a name search in the export folder. An
// empty id means the day has no document yet.
func (e *DriveExporter) resolveDocLocked(date string) (string, error) {
	if id, ok := e.docIDs[date]; ok {
		return id, nil
	}

	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", docName(date), e.folderID)
	list, err := e.service.Files.List().Q(query).Fields("files(id)").PageSize(1).Do()
	if err != nil {
		return "", fmt.Errorf("drive lookup: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}

	e.docIDs[date] = list.Files[0].Id
	return list.Files[0].Id, nil
}

func docName(date string) string {
	return "nebula-translate-" + date
}
