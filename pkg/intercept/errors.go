package intercept

import "fmt"

// DecompressionError is carried by the terminal chunk produced when a
// supported Content-Encoding fails to decode.
type DecompressionError struct {
	Encoding string
	Err      error
}

func (e *DecompressionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decoding %s content", e.Encoding)
	}
	return fmt.Sprintf("decoding %s content: %v", e.Encoding, e.Err)
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}

// UnsupportedEncodingError is returned by NewInflater for encodings the
// pipeline cannot decode.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported content encoding %q", e.Encoding)
}
