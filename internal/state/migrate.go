package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errUnsupportedVersion = errors.New("unsupported uploaded files format version")

// decodeFiles parses the persisted uploadedFiles value. It accepts the
// versioned document as well as the legacy arrays (plain names, or
// {name,size,type,uploadedAt} objects). migrated reports a legacy input.
func decodeFiles(raw string) (files []UploadedFile, migrated bool, err error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		return nil, false, nil
	}
	switch data[0] {
	case '{':
		var doc filesDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, false, fmt.Errorf("decode files document: %w", err)
		}
		if doc.Version > filesFormatVersion {
			return nil, false, fmt.Errorf("%w: %d", errUnsupportedVersion, doc.Version)
		}
		return doc.Files, doc.Version < filesFormatVersion, nil
	case '[':
		return decodeLegacyFiles(data)
	default:
		return nil, false, fmt.Errorf("decode files: unexpected token %q", data[0])
	}
}

func decodeLegacyFiles(data []byte) ([]UploadedFile, bool, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		files := make([]UploadedFile, 0, len(names))
		for _, name := range names {
			files = append(files, UploadedFile{OriginalName: name})
		}
		return files, true, nil
	}

	var records []legacyRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, fmt.Errorf("decode legacy files: %w", err)
	}
	files := make([]UploadedFile, 0, len(records))
	for _, r := range records {
		f := UploadedFile{OriginalName: r.Name, Size: r.Size, MIMEType: r.Type}
		if ts, err := time.Parse(time.RFC3339, r.UploadedAt); err == nil {
			f.UploadedAt = ts
		}
		files = append(files, f)
	}
	return files, true, nil
}

func decodeMapping(raw string) (map[string]string, error) {
	mapping := make(map[string]string)
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return mapping, nil
	}
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return make(map[string]string), fmt.Errorf("decode filename mapping: %w", err)
	}
	return mapping, nil
}

// reconcile enforces the list/mapping invariant: names are unique, every
// entry has exactly one mapping key and no key exists without an entry.
// It reports whether anything had to be repaired.
func reconcile(files []UploadedFile, mapping map[string]string) ([]UploadedFile, map[string]string, bool) {
	repaired := false
	seen := make(map[string]struct{}, len(files))
	out := make([]UploadedFile, 0, len(files))
	for _, f := range files {
		if f.OriginalName == "" {
			repaired = true
			continue
		}
		if _, dup := seen[f.OriginalName]; dup {
			repaired = true
			continue
		}
		seen[f.OriginalName] = struct{}{}
		if f.ServerName == "" {
			if mapped, ok := mapping[f.OriginalName]; ok && mapped != f.OriginalName {
				f.ServerName = mapped
			}
		}
		out = append(out, f)
	}

	rebuilt := make(map[string]string, len(out))
	for _, f := range out {
		rebuilt[f.OriginalName] = f.MappedName()
	}
	if len(rebuilt) != len(mapping) {
		repaired = true
	} else {
		for k, v := range rebuilt {
			if mapping[k] != v {
				repaired = true
				break
			}
		}
	}
	return out, rebuilt, repaired
}

func encodeFiles(files []UploadedFile) (string, error) {
	if files == nil {
		files = []UploadedFile{}
	}
	data, err := json.Marshal(filesDocument{Version: filesFormatVersion, Files: files})
	if err != nil {
		return "", fmt.Errorf("encode files: %w", err)
	}
	return string(data), nil
}

func encodeMapping(mapping map[string]string) (string, error) {
	data, err := json.Marshal(mapping)
	if err != nil {
		return "", fmt.Errorf("encode mapping: %w", err)
	}
	return string(data), nil
}
