package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
)

// Part is one multipart entry. Filename is empty for plain fields.
type Part struct {
	Name     string
	Value    string
	Filename string
	Data     []byte
}

// FormData is an ordered multipart body.
type FormData struct {
	parts []Part
}

func NewFormData() *FormData {
	return &FormData{}
}

func (f *FormData) Append(name, value string) {
	f.parts = append(f.parts, Part{Name: name, Value: value})
}

func (f *FormData) AppendFile(name, filename string, data []byte) {
	f.parts = append(f.parts, Part{Name: name, Filename: filename, Data: data})
}

// Parts returns a copy of the entries in insertion order.
func (f *FormData) Parts() []Part {
	return append([]Part(nil), f.parts...)
}

// Get returns the first plain value appended under name.
func (f *FormData) Get(name string) (string, bool) {
	for _, p := range f.parts {
		if p.Name == name && p.Filename == "" {
			return p.Value, true
		}
	}
	return "", false
}

// Encode renders the body and returns it with its Content-Type.
func (f *FormData) Encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range f.parts {
		if p.Filename == "" {
			if err := w.WriteField(p.Name, p.Value); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", p.Name, err)
			}
			continue
		}
		fw, err := w.CreateFormFile(p.Name, p.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("create file part %s: %w", p.Name, err)
		}
		if _, err := fw.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("write file part %s: %w", p.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
