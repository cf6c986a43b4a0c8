package delta

import "fmt"

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BrokerError is a non-2xx response. Body is kept verbatim so callers can
// classify the rejection textually.
type BrokerError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

// ParseError is a 2xx response whose envelope or result could not be decoded.
type ParseError struct {
	Op   string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
