// Package requests implements the document-request workflow: submission,
// role-scoped listing, approval, rejection and document delivery.
package requests

import (
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/apperr"
	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// AsTime normalizes the timestamp representations found in stored
// attachment data: native timestamps, epoch seconds or milliseconds,
// RFC 3339 strings, or a {seconds} object. Unparseable values come back as
// the zero time.
func AsTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t == nil {
			return time.Time{}
		}
		return *t
	case int64:
		return epochTime(float64(t))
	case int:
		return epochTime(float64(t))
	case float64:
		return epochTime(t)
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
		return time.Time{}
	case map[string]any:
		if secs, ok := t["seconds"]; ok {
			return AsTime(secs)
		}
		if secs, ok := t["_seconds"]; ok {
			return AsTime(secs)
		}
	}
	return time.Time{}
}

// epochTime treats values past the year ~5138 threshold as milliseconds.
func epochTime(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v >= 1e11 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

// MergeByCreatedAt merges the per-index result lists of a fan-out read:
// duplicates (a request matching several indexes) are kept once, the union
// is ordered newest first, and the page is truncated to limit. Ties keep
// the earlier list's entry first so pagination stays stable.
func MergeByCreatedAt(limit int, lists ...[]model.Request) []model.Request {
	seen := make(map[string]struct{})
	var merged []model.Request
	for _, list := range lists {
		for _, r := range list {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// Download locates the document a viewer should receive for a request.
type Download struct {
	URL      string
	Filename string
}

// ResolveDownload picks the document for a request: the most recent
// delivered attachment wins, then the denormalized documentUrl, then the
// first raw attachment. A request with no document at all is FILE_NOT_FOUND.
func ResolveDownload(r model.Request) (Download, error) {
	if att, ok := newestAttachment(r.DeliveredAtt); ok {
		return Download{URL: attachmentURL(att), Filename: attachmentFilename(att)}, nil
	}
	if r.DocumentURL != "" {
		return Download{URL: r.DocumentURL, Filename: filenameFromURL(r.DocumentURL)}, nil
	}
	if len(r.Attachments) > 0 {
		att := r.Attachments[0]
		return Download{URL: attachmentURL(att), Filename: attachmentFilename(att)}, nil
	}
	return Download{}, apperr.NotFound("FILE_NOT_FOUND")
}

// newestAttachment picks by uploadedAt when the stamps are usable and
// falls back to list position otherwise.
func newestAttachment(atts []model.Attachment) (model.Attachment, bool) {
	if len(atts) == 0 {
		return model.Attachment{}, false
	}
	best := atts[len(atts)-1]
	bestAt := AsTime(best.UploadedAt)
	for _, att := range atts {
		if at := AsTime(att.UploadedAt); at.After(bestAt) {
			best, bestAt = att, at
		}
	}
	return best, true
}

func attachmentURL(att model.Attachment) string {
	if att.SecureURL != "" {
		return att.SecureURL
	}
	return att.URL
}

func attachmentFilename(att model.Attachment) string {
	if att.OriginalFilename != "" {
		return att.OriginalFilename
	}
	return filenameFromURL(attachmentURL(att))
}

func filenameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" {
		return "document.pdf"
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	if !strings.Contains(name, ".") {
		name += ".pdf"
	}
	return name
}
