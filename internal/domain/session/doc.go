// Package session holds the single source of truth for a mosaic session.
//
// The Store owns every piece of session state: the session identifier, the
// main image, the ordered tile set, the palette, the preview grid, the result
// image, user settings, progress, busy flags and the last surfaced error.
// Nothing outside the Store writes those fields; every change goes through a
// named mutator that also applies the invalidation rules:
//
//	SetMainImage   -> clears Preview, Result
//	SetTileSet     -> clears Palette, Preview, Result
//	AppendTiles    -> clears Palette, Preview
//	ClearTileSet   -> clears Palette, Preview
//	SetSettings    -> clears Preview when TileSize changes
//	ResetSession   -> new session id, everything back to initial values
//
// Display handles:
//
// The Store allocates a display handle for the main image, for the first
// ThumbnailLimit tiles and for the result. The live handle set always equals
// exactly that set; a handle is released when its owner is replaced, cleared
// or reset, never later and never twice.
//
// Observers:
//
// Subscribe registers a callback that receives a Snapshot after every
// mutation. Callbacks run outside the Store lock.
//
// Example Usage:
//
//	store := session.NewStore(display.NewRegistry(), logger)
//	store.SetMainImage(&session.Blob{Name: "portrait.jpg", Data: data})
//	store.SetTileSet(tiles)
//	if store.CanGenerate() { ... }
package session
