// Package main is the entry point for the mosaic command line client.
//
// The client drives a remote image-processing service that builds photo
// mosaics:
//
//	mosaic CLI → processing service (FastAPI)
//	  /api/analyze   tile colors, uploaded in size-bounded batches
//	  /api/preview   low-resolution block grid
//	  /api/generate  rendered mosaic image
//
// Configuration:
//   - Environment variables (12-factor), also read from a .env file
//   - CLI flags (override env vars)
//   - Mosaic settings from a YAML, TOML or JSON file
//
// Usage:
//
//	# Check the service
//	mosaic health --service-url http://localhost:8000
//
//	# Render a mosaic from a directory of photos
//	mosaic generate --main portrait.jpg --tiles ./photos --style B -o out.png
//
// Signals:
//   - SIGINT: cancels in-flight uploads between batches
package main
