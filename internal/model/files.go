package model

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"swissdata/internal/api"
	"swissdata/internal/deco"
)

// GetFilePreview downloads the preview of a file field in the given
// format. It returns nil when the field holds no file: any field that is
// not a file, or a files field without opts.FileID.
func (m *Model) GetFilePreview(ctx context.Context, inst *deco.Instance, property, format string, opts FilePreviewOptions) ([]byte, error) {
	d, err := inst.Descriptor()
	if err != nil {
		return nil, err
	}
	f, ok := d.Field(property)
	if !ok {
		return nil, nil
	}
	typ := f.Handler.Name()
	if typ != "file" && typ != "files" {
		return nil, nil
	}
	if typ == "files" && opts.FileID == "" {
		return nil, nil
	}

	reqOpts := api.RequestOptions{ETag: opts.ETag}
	if reqOpts.ETag == "" {
		if file, ok := inst.Get(property).(*deco.FileItem); ok && file != nil {
			reqOpts.ETag = file.Filename
		}
	}

	route := opts.Route
	if route == "" {
		route = d.GetOneRoute(inst.ID)
	}
	uri := route + "?download=" + property + "&preview=" + format
	if opts.FileID != "" {
		uri += "&fileId=" + opts.FileID
	}

	resp, err := m.api.Get(ctx, uri, reqOpts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		_, err := api.Decode(resp)
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read preview: %w", err)
	}
	return data, nil
}
