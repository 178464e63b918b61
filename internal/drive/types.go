package drive

import "time"

// FolderMimeType marks a container node in the Drive API.
const FolderMimeType = "application/vnd.google-apps.folder"

// File is a normalized Drive API file resource. Raw API response shapes
// are unexported; callers only ever see File values.
type File struct {
	ID         string
	Name       string
	MimeType   string
	ParentID   string
	Size       *int64 // nil for folders and Google-native documents
	ModifiedAt time.Time
	Trashed    bool
}

// IsFolder reports whether the file is a container.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// Page is one page of a children listing. An empty NextPageToken means
// the listing is exhausted.
type Page struct {
	Files         []File
	NextPageToken string
}
