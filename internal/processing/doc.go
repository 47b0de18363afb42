/*
Package processing is the HTTP client for the remote image-processing service.

The service exposes three multipart endpoints scoped by a session id:

  - POST /api/analyze  computes the average color of each uploaded tile
  - POST /api/preview  returns a low-resolution block grid for the main image
  - POST /api/generate renders the full mosaic and returns it as an image

Requests go through a token-bucket rate limiter and a circuit breaker that
only counts transport errors and 5xx responses. Analyze accumulates state on
the service side, so retries stay disabled unless configured otherwise.
*/
package processing
