// Package testutil provides mocks and helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/GriffinCanCode/mosaic/internal/processing"
	"github.com/GriffinCanCode/mosaic/internal/shared/id"
	"github.com/stretchr/testify/mock"
)

// MockService is a mock of the preview and generate calls.
type MockService struct {
	mock.Mock
}

// Preview mocks the Preview method.
func (m *MockService) Preview(ctx context.Context, req processing.PreviewRequest) (*session.PreviewData, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.PreviewData), args.Error(1)
}

// Generate mocks the Generate method.
func (m *MockService) Generate(ctx context.Context, req processing.GenerateRequest) (session.Blob, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(session.Blob), args.Error(1)
}

// MockAnalyzer is a mock of the batch analyze call.
type MockAnalyzer struct {
	mock.Mock
}

// Analyze mocks the Analyze method.
func (m *MockAnalyzer) Analyze(ctx context.Context, sessionID id.SessionID, offset int, tiles []session.Blob) ([]session.PaletteEntry, error) {
	args := m.Called(ctx, sessionID, offset, tiles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]session.PaletteEntry), args.Error(1)
}

// NewMockService creates a mock service whose calls must all be expected.
func NewMockService(t *testing.T) *MockService {
	t.Helper()
	m := new(MockService)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockAnalyzer creates a mock analyzer whose calls must all be expected.
func NewMockAnalyzer(t *testing.T) *MockAnalyzer {
	t.Helper()
	m := new(MockAnalyzer)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Palette builds an index-aligned palette of n entries.
func Palette(n int) []session.PaletteEntry {
	entries := make([]session.PaletteEntry, n)
	for i := range entries {
		entries[i] = session.PaletteEntry{Index: i, R: float64(i), G: float64(i), B: float64(i)}
	}
	return entries
}

// Tiles builds n small distinct tiles.
func Tiles(n int) []session.Blob {
	tiles := make([]session.Blob, n)
	for i := range tiles {
		tiles[i] = session.Blob{Name: "tile.png", Data: []byte{byte(i), byte(i), byte(i)}}
	}
	return tiles
}
