// Package fakeservice runs an in-process processing service for tests.
//
// It implements the analyze, preview, generate and health endpoints with the
// full-merge analyze contract: the palette for a session accumulates across
// analyze requests and every response carries the whole palette so far. An
// analyze request's offset field truncates the palette to that many entries
// before the new tiles are appended; without it the tiles are appended.
// Tile colors are derived from the tile bytes, so tests can predict them.
package fakeservice

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/infrastructure/tracing"
	"github.com/gin-gonic/gin"
)

// Call records one request the service received
type Call struct {
	Endpoint  string
	SessionID string
	Files     []string
	Bytes     int64
	Fields    map[string]string
	RequestID string
	TraceID   string
}

// Failure makes a request fail with the given status and body
type Failure struct {
	Status int
	Body   string
	// ContentType defaults to application/json
	ContentType string
}

// Service is a fake processing service
type Service struct {
	mu       sync.Mutex
	sessions map[string][]session.PaletteEntry
	calls    []Call
	failures map[string]map[int]Failure // endpoint -> 1-based call number
	counts   map[string]int

	// BatchLocal switches analyze to return only the palette of the
	// current request, with request-local indices
	BatchLocal bool

	// BeforeAnalyze runs before an analyze request is handled, with the
	// 1-based analyze call number
	BeforeAnalyze func(n int)

	engine *gin.Engine
}

// New creates a fake service
func New() *Service {
	gin.SetMode(gin.TestMode)

	s := &Service{
		sessions: make(map[string][]session.PaletteEntry),
		failures: make(map[string]map[int]Failure),
		counts:   make(map[string]int),
	}

	router := gin.New()
	router.Use(gin.Recovery(), tracing.Middleware())
	router.GET("/api/health", s.health)
	router.POST("/api/analyze", s.analyze)
	router.POST("/api/preview", s.preview)
	router.POST("/api/generate", s.generate)
	s.engine = router

	return s
}

// Start serves the fake on a local listener until the test ends and
// returns its base URL
func (s *Service) Start(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(s.engine)
	t.Cleanup(srv.Close)
	return srv.URL
}

// Handler exposes the router for direct use with httptest recorders
func (s *Service) Handler() http.Handler {
	return s.engine
}

// FailOn makes the n-th call (1-based) to endpoint fail
func (s *Service) FailOn(endpoint string, n int, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[endpoint] == nil {
		s.failures[endpoint] = make(map[int]Failure)
	}
	s.failures[endpoint][n] = f
}

// Calls returns the recorded calls in arrival order
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded calls to one endpoint
func (s *Service) CallsTo(endpoint string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// Palette returns the accumulated palette of a session
func (s *Service) Palette(sessionID string) []session.PaletteEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.PaletteEntry(nil), s.sessions[sessionID]...)
}

// ColorOf is the average color the fake assigns to tile bytes: the mean of
// every third byte per channel
func ColorOf(data []byte) (r, g, b float64) {
	var sum [3]float64
	var n [3]float64
	for i, v := range data {
		sum[i%3] += float64(v)
		n[i%3]++
	}
	avg := func(c int) float64 {
		if n[c] == 0 {
			return 0
		}
		return sum[c] / n[c]
	}
	return avg(0), avg(1), avg(2)
}

// begin records the call and reports an injected failure, if any
func (s *Service) begin(c *gin.Context, endpoint string, call Call) (Failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[endpoint]++
	call.Endpoint = endpoint
	call.RequestID = c.GetHeader("X-Request-ID")
	call.TraceID = string(tracing.TraceIDFrom(c.Request.Context()))
	s.calls = append(s.calls, call)

	f, ok := s.failures[endpoint][s.counts[endpoint]]
	return f, ok
}

func (s *Service) fail(c *gin.Context, f Failure) {
	ct := f.ContentType
	if ct == "" {
		ct = "application/json"
	}
	c.Data(f.Status, ct, []byte(f.Body))
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

func (s *Service) health(c *gin.Context) {
	if f, failed := s.begin(c, "health", Call{}); failed {
		s.fail(c, f)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Service) analyze(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, "multipart form required")
		return
	}
	sessionID := c.PostForm("session_id")
	headers := form.File["files"]

	call := Call{SessionID: sessionID, Fields: map[string]string{"offset": c.PostForm("offset")}}
	blobs := make([][]byte, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			detail(c, http.StatusBadRequest, err.Error())
			return
		}
		call.Files = append(call.Files, fh.Filename)
		call.Bytes += int64(len(data))
		blobs = append(blobs, data)
	}

	s.mu.Lock()
	n := s.counts["analyze"] + 1
	hook := s.BeforeAnalyze
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	if f, failed := s.begin(c, "analyze", call); failed {
		s.fail(c, f)
		return
	}
	if sessionID == "" || len(blobs) == 0 {
		detail(c, http.StatusUnprocessableEntity, "session_id and files are required")
		return
	}

	s.mu.Lock()
	existing := s.sessions[sessionID]
	if raw, ok := c.GetPostForm("offset"); ok {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 || offset > len(existing) {
			s.mu.Unlock()
			detail(c, http.StatusConflict, fmt.Sprintf("offset %s does not match %d analyzed tiles", raw, len(existing)))
			return
		}
		existing = existing[:offset:offset]
	}
	local := make([]session.PaletteEntry, 0, len(blobs))
	for i, data := range blobs {
		r, g, b := ColorOf(data)
		index := len(existing) + i
		if s.BatchLocal {
			index = i
		}
		local = append(local, session.PaletteEntry{Index: index, R: r, G: g, B: b})
	}
	s.sessions[sessionID] = append(existing, local...)
	palette := append([]session.PaletteEntry(nil), s.sessions[sessionID]...)
	if s.BatchLocal {
		palette = local
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"palette": palette, "count": len(palette)})
}

func (s *Service) preview(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	tileSize, _ := strconv.Atoi(c.DefaultPostForm("tile_size", "40"))
	main, name, err := formFile(c, "main_image")

	call := Call{
		SessionID: sessionID,
		Fields:    map[string]string{"tile_size": c.PostForm("tile_size")},
	}
	if err == nil {
		call.Files = []string{name}
		call.Bytes = int64(len(main))
	}
	if f, failed := s.begin(c, "preview", call); failed {
		s.fail(c, f)
		return
	}
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	palette := s.Palette(sessionID)
	if len(palette) == 0 {
		detail(c, http.StatusNotFound, "Session not found. Upload sources first.")
		return
	}
	if tileSize <= 0 {
		detail(c, http.StatusUnprocessableEntity, "tile_size must be positive")
		return
	}

	cols := max(1, 80/tileSize)
	rows := max(1, 60/tileSize)
	cr, cg, cb := ColorOf(main)
	blocks := make([]session.PreviewBlock, 0, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			src := palette[(x+y)%len(palette)]
			blocks = append(blocks, session.PreviewBlock{
				X: x, Y: y,
				CellR: int(cr), CellG: int(cg), CellB: int(cb),
				SrcR: int(src.R), SrcG: int(src.G), SrcB: int(src.B),
			})
		}
	}

	c.JSON(http.StatusOK, session.PreviewData{Cols: cols, Rows: rows, Blocks: blocks})
}

func (s *Service) generate(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	main, name, err := formFile(c, "main_image")

	fields := make(map[string]string)
	for _, key := range []string{"tile_size", "style", "allow_repeats", "overlay_opacity", "shuffle_sources", "a4_output"} {
		fields[key] = c.PostForm(key)
	}
	call := Call{SessionID: sessionID, Fields: fields}
	if err == nil {
		call.Files = []string{name}
		call.Bytes = int64(len(main))
	}
	if f, failed := s.begin(c, "generate", call); failed {
		s.fail(c, f)
		return
	}
	if err != nil {
		detail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if len(s.Palette(sessionID)) == 0 {
		detail(c, http.StatusNotFound, "Session not found. Upload sources first.")
		return
	}
	switch fields["style"] {
	case "A", "B", "C":
	default:
		detail(c, http.StatusUnprocessableEntity, "style must be A, B, or C")
		return
	}

	out, err := renderPNG(main)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Content-Disposition", `attachment; filename="mosaic.png"`)
	c.Data(http.StatusOK, "image/png", out)
}

func formFile(c *gin.Context, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%s is required", field)
	}
	data, err := readPart(fh)
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// renderPNG returns a 1x1 PNG in the main image's average color
func renderPNG(main []byte) ([]byte, error) {
	r, g, b := ColorOf(main)
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
