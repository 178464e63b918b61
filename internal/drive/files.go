package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// listPageSize is the pageSize value for children listings.
// 1000 is the maximum allowed by the Drive API files.list endpoint.
const listPageSize = 1000

// fileFields is the fields projection requested on every file resource.
const fileFields = "id,name,mimeType,parents,size,modifiedTime,trashed"

// Timestamp validation bounds: timestamps outside this range are replaced
// with the current time and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// fileResponse mirrors the Drive API file resource JSON exactly.
// Unexported; callers use File via toFile() normalization.
type fileResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Parents      []string `json:"parents"`
	Size         string   `json:"size"` // the API serializes int64 as a quoted string
	ModifiedTime string   `json:"modifiedTime"`
	Trashed      bool     `json:"trashed"`
}

type fileListResponse struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

// toFile normalizes a Drive API file resource into our File type.
// Names are NFC-normalized: the API preserves whatever normalization the
// uploading client used, and signature comparison must not flap between
// NFC and NFD spellings of the same name.
func (r *fileResponse) toFile(logger *slog.Logger) File {
	f := File{
		ID:       r.ID,
		Name:     norm.NFC.String(r.Name),
		MimeType: r.MimeType,
		Trashed:  r.Trashed,
	}

	if len(r.Parents) > 0 {
		f.ParentID = r.Parents[0]
	}

	if r.Size != "" {
		size, err := strconv.ParseInt(r.Size, 10, 64)
		if err != nil {
			logger.Warn("unparseable size, leaving nil",
				slog.String("file_id", r.ID),
				slog.String("raw", r.Size),
			)
		} else {
			f.Size = &size
		}
	}

	f.ModifiedAt = parseTimestamp(r.ModifiedTime, "modifiedTime", r.ID, logger)

	return f
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Invalid or out-of-range timestamps are replaced with time.Now().UTC() and logged.
func parseTimestamp(raw, field, fileID string, logger *slog.Logger) time.Time {
	if raw == "" {
		logger.Warn("empty timestamp, using current time",
			slog.String("field", field),
			slog.String("file_id", fileID),
		)

		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, using current time",
			slog.String("field", field),
			slog.String("file_id", fileID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Now().UTC()
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, using current time",
			slog.String("field", field),
			slog.String("file_id", fileID),
			slog.String("raw", raw),
		)

		return time.Now().UTC()
	}

	return t
}

// GetFile retrieves a single file resource by ID.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	c.logger.Info("getting file", slog.String("file_id", fileID))

	path := fmt.Sprintf("/files/%s?fields=%s", url.PathEscape(fileID), url.QueryEscape(fileFields))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding file response: %w", err)
	}

	f := fr.toFile(c.logger)

	return &f, nil
}

// ListChildren returns one page of non-trashed children of the given
// container. Pass an empty pageToken for the first page; pass the returned
// NextPageToken to continue. Callers own the pagination loop so the walker
// can interleave paging with recursion.
func (c *Client) ListChildren(ctx context.Context, containerID, pageToken string) (*Page, error) {
	query := url.Values{}
	query.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", containerID))
	query.Set("pageSize", strconv.Itoa(listPageSize))
	query.Set("fields", "nextPageToken,files("+fileFields+")")
	query.Set("orderBy", "name")

	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	c.logger.Debug("listing children page",
		slog.String("container_id", containerID),
		slog.Bool("first_page", pageToken == ""),
	)

	resp, err := c.Do(ctx, http.MethodGet, "/files?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var flr fileListResponse
	if err := json.NewDecoder(resp.Body).Decode(&flr); err != nil {
		return nil, fmt.Errorf("drive: decoding file list response: %w", err)
	}

	files := make([]File, 0, len(flr.Files))
	for i := range flr.Files {
		files = append(files, flr.Files[i].toFile(c.logger))
	}

	c.logger.Debug("fetched children page",
		slog.String("container_id", containerID),
		slog.Int("count", len(files)),
		slog.Bool("has_next", flr.NextPageToken != ""),
	)

	return &Page{Files: files, NextPageToken: flr.NextPageToken}, nil
}
