/*
Package resilience provides the circuit breaker in front of the processing service.

# Overview

A mosaic session talks to one processing service. When that service is down,
every analyze batch would otherwise wait for the full transport timeout. The
breaker trips after repeated transport failures and fails fast until the
service has had time to recover.

The state machine is github.com/sony/gobreaker; this package fixes the
defaults and the typed Run helper the client uses.

Only failures the caller classifies as infrastructure failures count: a 400
"no palette" answer is a correct response from a healthy service and must not
trip the breaker. Settings.IsFailure makes that classification.

# Usage

	breaker := resilience.New("processing", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	resp, err := resilience.Run(breaker, func() (*resty.Response, error) {
		return req.Post("/api/analyze")
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
