package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/validate"
)

// maxUploadBytes caps a single upload at 25 MiB.
const maxUploadBytes = 25 << 20

// allowedExtensions is the upload allow-list. Anything executable or
// otherwise dangerous stays out.
var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".xml": true, ".toml": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".rb": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".rs": true,
	".sql": true, ".diff": true, ".patch": true, ".html": true, ".css": true,
}

// UploadFile pushes content to the server and optionally shares the link.
func (t *Toolset) UploadFile(ctx context.Context, args validate.Args) (map[string]any, error) {
	creds, err := t.creds(args, identity.FamilyUpload)
	if err != nil {
		return nil, err
	}
	filename, err := args.RequiredString("filename")
	if err != nil {
		return nil, err
	}
	filename, err = sanitizeFilename(filename)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch {
	case args.Has("content_base64"):
		encoded, err := args.RequiredString("content_base64")
		if err != nil {
			return nil, err
		}
		data, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, validate.Invalid("content_base64", "not valid base64: "+err.Error())
		}
	case args.Has("content"):
		text, err := args.RequiredString("content")
		if err != nil {
			return nil, err
		}
		data = []byte(text)
	default:
		return nil, &validate.ToolError{
			Code:    validate.CodeMissingParam,
			Message: `either "content" (text) or "content_base64" is required`,
		}
	}
	if len(data) == 0 {
		return nil, validate.Invalid("content", "upload is empty")
	}
	if len(data) > maxUploadBytes {
		return nil, validate.Invalid("content",
			fmt.Sprintf("upload is %d bytes; the limit is %d (25 MiB)", len(data), maxUploadBytes))
	}

	upload, err := t.client.UploadFile(ctx, creds, filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"uri":        upload.URI,
		"filename":   filename,
		"size_bytes": len(data),
	}

	// Optionally share the link right away.
	stream, err := args.String("share_stream", "")
	if err != nil {
		return nil, err
	}
	if stream != "" {
		topic, err := args.String("share_topic", "uploads")
		if err != nil {
			return nil, err
		}
		note, err := args.String("share_note", "")
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("[%s](%s)", filename, upload.URI)
		if note != "" {
			content = note + "\n\n" + content
		}
		messageID, err := t.client.SendStreamMessage(ctx, creds, stream, topic, content)
		if err != nil {
			return partial("upload succeeded but sharing the link failed: "+err.Error(), payload), nil
		}
		payload["share_message_id"] = messageID
	}
	return success(payload), nil
}

// sanitizeFilename rejects traversal and control characters and keeps only
// the base name with an allow-listed extension.
func sanitizeFilename(filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", validate.Missing("filename")
	}
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return "", validate.Invalid("filename", "contains control characters")
		}
	}
	if strings.Contains(filename, "..") {
		return "", validate.Invalid("filename", "path traversal is not allowed")
	}
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "", validate.Invalid("filename", "not a usable file name")
	}
	ext := strings.ToLower(path.Ext(base))
	if ext == "" {
		return "", validate.Invalid("filename", "an extension is required",
			"example: notes.md")
	}
	if !allowedExtensions[ext] {
		return "", validate.Invalid("filename",
			fmt.Sprintf("extension %q is not allowed", ext),
			"allowed: text, image, archive, and source-code extensions")
	}
	return base, nil
}

// ManageFiles covers download and the operations the backend has no API
// for, which report partial success instead of guessing.
func (t *Toolset) ManageFiles(ctx context.Context, args validate.Args) (map[string]any, error) {
	action, err := args.Enum("action", "", "download", "list", "delete")
	if err != nil {
		return nil, err
	}
	if action == "" {
		return nil, validate.Missing("action")
	}

	switch action {
	case "download":
		creds, err := t.creds(args, identity.FamilyRead)
		if err != nil {
			return nil, err
		}
		uri, err := args.RequiredString("uri")
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(uri, "/user_uploads/") {
			return nil, validate.Invalid("uri",
				"only /user_uploads/ paths can be downloaded",
				"example: /user_uploads/2/ab/notes.md")
		}
		data, err := t.client.DownloadFile(ctx, creds, uri)
		if err != nil {
			return nil, err
		}
		return success(map[string]any{
			"uri":            uri,
			"size_bytes":     len(data),
			"content_base64": base64.StdEncoding.EncodeToString(data),
		}), nil

	default:
		// The backend exposes no listing or deletion API for uploads.
		return partial(fmt.Sprintf("the backend has no %s API for uploads; keep the served URI from upload_file", action),
			map[string]any{"action": action}), nil
	}
}
