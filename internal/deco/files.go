package deco

import (
	"context"
	"sort"
)

var (
	File  TypeHandler = fileHandler{Handler{name: "file", defaults: Options{"accepted": []string{"image/*", "application/pdf"}, "destination": "uploads/"}}}
	Files TypeHandler = filesHandler{Handler{name: "files", defaults: Options{"accepted": []string{"image/*", "application/pdf"}, "destination": "uploads-files/", "maxCount": 12}}}
)

// FileItem is the in-memory form of a file field. Stored files carry their
// metadata only; pending uploads also carry the bytes to send.
type FileItem struct {
	Name        string `json:"name"`
	Filename    string `json:"filename,omitempty"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	PreviewData string `json:"-"`

	ToUpload bool              `json:"-"`
	Data     []byte            `json:"-"`
	Replaced []byte            `json:"-"`
	Blobs    map[string][]byte `json:"-"`
}

// Content returns the bytes to upload: the replaced content when set.
func (f *FileItem) Content() []byte {
	if f.Replaced != nil {
		return f.Replaced
	}
	return f.Data
}

// BlobFormats returns the preview formats in a stable order.
func (f *FileItem) BlobFormats() []string {
	formats := make([]string, 0, len(f.Blobs))
	for format := range f.Blobs {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}

// Metadata returns the wire form of a stored file.
func (f *FileItem) Metadata() map[string]any {
	m := map[string]any{"name": f.Name, "type": f.Type, "size": f.Size}
	if f.Filename != "" {
		m["filename"] = f.Filename
	}
	if f.Width > 0 {
		m["width"] = f.Width
	}
	if f.Height > 0 {
		m["height"] = f.Height
	}
	return m
}

func fileFromWire(v any) (*FileItem, bool) {
	if f, ok := v.(*FileItem); ok {
		return f, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	f := &FileItem{}
	f.Name, _ = m["name"].(string)
	f.Filename, _ = m["filename"].(string)
	f.Type, _ = m["type"].(string)
	if size, ok := toFloat64(m["size"]); ok {
		f.Size = int64(size)
	}
	if w, ok := toFloat64(m["width"]); ok {
		f.Width = int(w)
	}
	if h, ok := toFloat64(m["height"]); ok {
		f.Height = int(h)
	}
	return f, true
}

func validFile(f *FileItem) bool {
	return f != nil && f.Name != "" && f.Type != "" && f.Size > 0
}

type fileHandler struct{ Handler }

func (fileHandler) FromAPI(_ context.Context, _ string, value any, _ Options, _ map[string]any, _ *Descriptor) (any, error) {
	if f, ok := fileFromWire(value); ok {
		return f, nil
	}
	return value, nil
}

func (fileHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	f, ok := fileFromWire(value)
	return ok && validFile(f), nil
}

type filesHandler struct{ Handler }

func (filesHandler) FromAPI(_ context.Context, _ string, value any, _ Options, _ map[string]any, _ *Descriptor) (any, error) {
	items, ok := asSlice(value)
	if !ok {
		return value, nil
	}
	out := make([]*FileItem, 0, len(items))
	for _, item := range items {
		if f, ok := fileFromWire(item); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// ToAPI sends the metadata of stored files. Pending uploads travel as
// multipart parts and are left out here.
func (filesHandler) ToAPI(_ context.Context, _ string, value any, _ Options, _ map[string]any, _ *Descriptor) (any, error) {
	list, ok := value.([]*FileItem)
	if !ok {
		return value, nil
	}
	out := make([]any, 0, len(list))
	for _, f := range list {
		if f == nil || f.ToUpload {
			continue
		}
		out = append(out, f.Metadata())
	}
	return out, nil
}

func (filesHandler) Validate(_ context.Context, value any, _ *Instance, _ Options) (bool, error) {
	if value == nil {
		return true, nil
	}
	if list, ok := value.([]*FileItem); ok {
		for _, f := range list {
			if !validFile(f) {
				return false, nil
			}
		}
		return true, nil
	}
	items, ok := asSlice(value)
	if !ok {
		return false, nil
	}
	for _, item := range items {
		f, ok := fileFromWire(item)
		if !ok || !validFile(f) {
			return false, nil
		}
	}
	return true, nil
}
