package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// ErrEmptyUpload is returned when analyze is called without tiles
var ErrEmptyUpload = errors.New("no files to upload")

// PreviewRequest is the input of a preview call
type PreviewRequest struct {
	SessionID id.SessionID
	MainImage session.Blob
	TileSize  int
}

// GenerateRequest is the input of a generate call
type GenerateRequest struct {
	SessionID id.SessionID
	MainImage session.Blob
	Settings  session.Settings
}

type analyzeResponse struct {
	Palette []session.PaletteEntry `json:"palette"`
	Count   int                    `json:"count"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Analyze uploads tiles for a session and returns the palette the service
// holds for that session after merging them. The tiles take indices from
// offset on; the service drops any entries it holds at or past offset, so
// offset 0 starts the session palette over.
func (c *Client) Analyze(ctx context.Context, sessionID id.SessionID, offset int, tiles []session.Blob) ([]session.PaletteEntry, error) {
	if len(tiles) == 0 {
		return nil, ErrEmptyUpload
	}
	if offset < 0 {
		return nil, fmt.Errorf("analyze: negative offset %d", offset)
	}

	fields := make([]*resty.MultipartField, 0, len(tiles))
	var size int64
	for i, tile := range tiles {
		fields = append(fields, filePart("files", tile, fmt.Sprintf("tile-%d", i)))
		size += tile.Size()
	}

	resp, err := c.send(ctx, analyzeEndpoint, size, func(r *resty.Request) {
		r.SetMultipartFormData(map[string]string{
			"session_id": sessionID.String(),
			"offset":     strconv.Itoa(offset),
		}).SetMultipartFields(fields...)
	})
	if err != nil {
		return nil, err
	}

	var out analyzeResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return out.Palette, nil
}

// Preview requests the block grid for the main image at the given tile size
func (c *Client) Preview(ctx context.Context, req PreviewRequest) (*session.PreviewData, error) {
	resp, err := c.send(ctx, previewEndpoint, req.MainImage.Size(), func(r *resty.Request) {
		r.SetMultipartFormData(map[string]string{
			"session_id": req.SessionID.String(),
			"tile_size":  strconv.Itoa(req.TileSize),
		}).SetMultipartFields(filePart("main_image", req.MainImage, "main"))
	})
	if err != nil {
		return nil, err
	}

	var out session.PreviewData
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode preview response: %w", err)
	}
	return &out, nil
}

// Generate renders the mosaic and returns the image the service produced
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (session.Blob, error) {
	s := req.Settings
	resp, err := c.send(ctx, generateEndpoint, req.MainImage.Size(), func(r *resty.Request) {
		r.SetMultipartFormData(map[string]string{
			"session_id":      req.SessionID.String(),
			"tile_size":       strconv.Itoa(s.TileSize),
			"style":           string(s.Style),
			"allow_repeats":   strconv.FormatBool(s.AllowRepeats),
			"overlay_opacity": strconv.FormatFloat(s.OverlayOpacity, 'f', -1, 64),
			"shuffle_sources": strconv.FormatBool(s.ShuffleSources),
			"a4_output":       strconv.FormatBool(s.A4Output),
		}).SetMultipartFields(filePart("main_image", req.MainImage, "main"))
	})
	if err != nil {
		return session.Blob{}, err
	}

	data := resp.Body()
	if len(data) == 0 {
		return session.Blob{}, fmt.Errorf("generate: empty response body")
	}

	return session.Blob{
		Name: resultName(resp.Header().Get("Content-Disposition"), data),
		Data: data,
	}, nil
}

// Health checks that the service is up
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.send(ctx, healthEndpoint, 0, nil)
	if err != nil {
		return err
	}

	var out healthResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if out.Status != "ok" {
		return fmt.Errorf("service unhealthy: status %q", out.Status)
	}
	return nil
}

func filePart(param string, blob session.Blob, fallback string) *resty.MultipartField {
	mtype := mimetype.Detect(blob.Data)
	name := blob.Name
	if name == "" {
		name = fallback + mtype.Extension()
	}
	return &resty.MultipartField{
		Param:       param,
		FileName:    name,
		ContentType: mtype.String(),
		Reader:      bytes.NewReader(blob.Data),
	}
}

// resultName takes the attachment filename when present, otherwise names
// the result after its sniffed type
func resultName(disposition string, data []byte) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	return "mosaic" + mimetype.Detect(data).Extension()
}
