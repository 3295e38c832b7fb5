package stub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"swissdata/internal/store"
)

const previewFormat = "preview"

func collectionOf(c *fiber.Ctx) string {
	if slug := c.Params("slug"); slug != "" {
		return "dynamicdata:" + slug
	}
	return c.Params("collection")
}

func (s *Server) list(c *fiber.Ctx) error {
	records, err := s.records.List(c.UserContext(), collectionOf(c))
	if err != nil {
		return err
	}

	var ids map[string]bool
	if q := c.Query("id"); q != "" {
		ids = make(map[string]bool)
		for _, id := range strings.Split(q, ",") {
			ids[id] = true
		}
	}

	out := make([]store.Record, 0, len(records))
	for _, rec := range records {
		if ids != nil && !ids[rec.ID()] {
			continue
		}
		out = append(out, public(rec))
	}
	return c.JSON(out)
}

func (s *Server) getOne(c *fiber.Ctx) error {
	rec, err := s.records.Get(c.UserContext(), collectionOf(c), c.Params("id"))
	if err != nil {
		return err
	}
	if field := c.Query("download"); field != "" {
		return s.download(c, rec, field)
	}
	return c.JSON(public(rec))
}

// dynamicModelID returns the id of the dynamic config whose slug matches.
func (s *Server) dynamicModelID(c *fiber.Ctx) (string, error) {
	slug := c.Params("slug")
	if slug == "" {
		return "", nil
	}
	configs, err := s.records.List(c.UserContext(), "dynamicconfig")
	if err != nil {
		return "", err
	}
	for _, cfg := range configs {
		if str(cfg, "slug") == slug {
			return cfg.ID(), nil
		}
	}
	return "", fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Unknown dynamic model %s", slug))
}

func (s *Server) create(c *fiber.Ctx) error {
	collection := collectionOf(c)
	modelID, err := s.dynamicModelID(c)
	if err != nil {
		return err
	}
	id := store.NewID()
	rec, err := s.payload(c, collection, id, nil)
	if err != nil {
		return err
	}
	rec["id"] = id
	if modelID != "" {
		rec["modelId"] = modelID
	}
	saved, err := s.records.Insert(c.UserContext(), collection, rec)
	if err != nil {
		return err
	}
	return c.JSON(public(saved))
}

func (s *Server) update(c *fiber.Ctx) error {
	collection := collectionOf(c)
	current, err := s.records.Get(c.UserContext(), collection, c.Params("id"))
	if err != nil {
		return err
	}
	patch, err := s.payload(c, collection, current.ID(), current)
	if err != nil {
		return err
	}
	delete(patch, "modelId")
	for k := range patch {
		if strings.HasPrefix(k, "_password") {
			delete(patch, k)
		}
	}
	saved, err := s.records.Update(c.UserContext(), collection, current.ID(), patch)
	if err != nil {
		return err
	}
	return c.JSON(public(saved))
}

func (s *Server) remove(c *fiber.Ctx) error {
	collection := collectionOf(c)
	id := c.Params("id")
	if err := s.records.Delete(c.UserContext(), collection, id); err != nil {
		return err
	}
	if err := s.files.RemoveRecord(c.UserContext(), collection, id); err != nil {
		s.log.WithError(err).Warn("remove record files")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// payload reads a JSON or multipart body. Multipart fields hold JSON
// encoded values; file parts are stored and replaced by their metadata.
func (s *Server) payload(c *fiber.Ctx, collection, id string, current store.Record) (store.Record, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		body, err := bodyMap(c)
		if err != nil {
			return nil, err
		}
		return store.Record(body), nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid multipart body")
	}

	rec := store.Record{}
	for name, values := range form.Value {
		if len(values) == 0 {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(values[0]), &decoded); err != nil {
			decoded = values[0]
		}
		rec[name] = decoded
	}

	for name, headers := range form.File {
		if strings.HasSuffix(name, "_preview") {
			continue
		}
		metas := make([]any, 0, len(headers))
		for _, h := range headers {
			meta, err := s.storeUpload(c, collection, id, h)
			if err != nil {
				return nil, err
			}
			metas = append(metas, meta)
		}
		existing, isList := rec[name].([]any)
		if !isList && current != nil {
			existing, isList = current[name].([]any)
		}
		switch {
		case isList:
			rec[name] = append(existing, metas...)
		case len(metas) == 1:
			rec[name] = metas[0]
		default:
			rec[name] = metas
		}
	}

	for name, headers := range form.File {
		base, ok := strings.CutSuffix(name, "_preview")
		if !ok || len(headers) == 0 {
			continue
		}
		meta, ok := rec[base].(map[string]any)
		if !ok {
			continue
		}
		if err := s.storePreview(c, collection, id, str(meta, "filename"), headers[len(headers)-1]); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) storeUpload(c *fiber.Ctx, collection, id string, h *multipart.FileHeader) (map[string]any, error) {
	if s.cfg.MaxFileSize > 0 && h.Size > s.cfg.MaxFileSize {
		msg := fmt.Sprintf("File too large: %d bytes (max %d)", h.Size, s.cfg.MaxFileSize)
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, msg)
	}
	data, err := readPart(h)
	if err != nil {
		return nil, err
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(h.Filename)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}

	fileID := store.NewID() + strings.ToLower(filepath.Ext(h.Filename))
	size, err := s.files.Save(c.UserContext(), collection, id, fileID, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("save file: %w", err)
	}
	return map[string]any{
		"name":     h.Filename,
		"filename": fileID,
		"type":     mimeType,
		"size":     size,
	}, nil
}

func (s *Server) storePreview(c *fiber.Ctx, collection, id, fileID string, h *multipart.FileHeader) error {
	data, err := readPart(h)
	if err != nil {
		return err
	}
	return s.files.SavePreview(c.UserContext(), collection, id, fileID, previewFormat, bytes.NewReader(data))
}

// download serves ?download=<field>[&fileId=<id>][&preview=<format>].
func (s *Server) download(c *fiber.Ctx, rec store.Record, field string) error {
	fileID := c.Query("fileId")
	var meta map[string]any
	switch v := rec[field].(type) {
	case map[string]any:
		meta = v
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if ok && (fileID == "" || str(m, "filename") == fileID) {
				meta = m
				break
			}
		}
	}
	if meta == nil {
		return fiber.NewError(fiber.StatusNotFound, "File not found")
	}
	if fileID == "" {
		fileID = str(meta, "filename")
	}

	format := ""
	if c.Query("preview") != "" {
		format = previewFormat
	}
	reader, err := s.files.Open(c.UserContext(), collectionOf(c), rec.ID(), fileID, format)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "File not found")
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read stored file: %w", err)
	}

	if mimeType := str(meta, "type"); mimeType != "" {
		c.Set(fiber.HeaderContentType, mimeType)
	}
	c.Set(fiber.HeaderETag, fileID)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="%s"`, str(meta, "name")))
	return c.Send(data)
}
