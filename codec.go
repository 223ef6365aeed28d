package wasmop

import (
	"encoding/binary"
	"fmt"
)

// HeaderField is one name/value pair in a request or response record.
type HeaderField struct {
	Name  string
	Value string
}

// RequestRecord is a guest's outbound HTTP request, decoded from its linear
// memory by http-proxy-abi.request.
type RequestRecord struct {
	Method  string
	URI     string
	Headers []HeaderField
	Body    []byte
}

// ResponseRecord is a response delivered back to the guest through wakeup.
// HasBody distinguishes a unary response's metadata, which carries an empty
// body field (the body itself follows as a separate raw result), from stream
// metadata, which carries headers but no body field.
type ResponseRecord struct {
	StatusCode int32
	Headers    []HeaderField
	HasBody    bool
	Body       []byte
}

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(raw []byte) (string, []byte, error) {
	if len(raw) < 4 {
		return "", nil, fmt.Errorf("%w: truncated length prefix", ErrContractViolation)
	}
	n := binary.LittleEndian.Uint32(raw)
	raw = raw[4:]
	if uint32(len(raw)) < n {
		return "", nil, fmt.Errorf("%w: truncated field, want %d bytes, have %d", ErrContractViolation, n, len(raw))
	}
	return string(raw[:n]), raw[n:], nil
}

func putHeaders(buf []byte, headers []HeaderField) []byte {
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(headers)))
	buf = append(buf, countBuf[:]...)
	for _, h := range headers {
		buf = putString(buf, h.Name)
		buf = putString(buf, h.Value)
	}
	return buf
}

func getHeaders(raw []byte) ([]HeaderField, []byte, error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated header count", ErrContractViolation)
	}
	n := binary.LittleEndian.Uint32(raw)
	raw = raw[4:]

	headers := make([]HeaderField, 0, n)
	for i := uint32(0); i < n; i++ {
		var name, value string
		var err error
		name, raw, err = getString(raw)
		if err != nil {
			return nil, nil, err
		}
		value, raw, err = getString(raw)
		if err != nil {
			return nil, nil, err
		}
		headers = append(headers, HeaderField{Name: name, Value: value})
	}
	return headers, raw, nil
}

// encodeRequestRecord lays out {method, uri, headers, body} as length-
// prefixed fields, in that order.
func encodeRequestRecord(r RequestRecord) []byte {
	buf := make([]byte, 0, len(r.Method)+len(r.URI)+len(r.Body)+32)
	buf = putString(buf, r.Method)
	buf = putString(buf, r.URI)
	buf = putHeaders(buf, r.Headers)
	buf = putString(buf, string(r.Body))
	return buf
}

func decodeRequestRecord(raw []byte) (RequestRecord, error) {
	var r RequestRecord
	var err error

	r.Method, raw, err = getString(raw)
	if err != nil {
		return r, err
	}
	r.URI, raw, err = getString(raw)
	if err != nil {
		return r, err
	}
	r.Headers, raw, err = getHeaders(raw)
	if err != nil {
		return r, err
	}
	var body string
	body, _, err = getString(raw)
	if err != nil {
		return r, err
	}
	r.Body = []byte(body)
	return r, nil
}

// encodeResponseRecord lays out {status_code, headers, has_body, body?}.
// Stream metadata results set HasBody false and omit the body field.
func encodeResponseRecord(r ResponseRecord) []byte {
	buf := make([]byte, 0, len(r.Body)+32)
	var statusBuf [4]byte
	binary.LittleEndian.PutUint32(statusBuf[:], uint32(r.StatusCode))
	buf = append(buf, statusBuf[:]...)
	buf = putHeaders(buf, r.Headers)
	if r.HasBody {
		buf = append(buf, 1)
		buf = putString(buf, string(r.Body))
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeResponseRecord(raw []byte) (ResponseRecord, error) {
	var r ResponseRecord
	if len(raw) < 4 {
		return r, fmt.Errorf("%w: truncated status code", ErrContractViolation)
	}
	r.StatusCode = int32(binary.LittleEndian.Uint32(raw))
	raw = raw[4:]

	var err error
	r.Headers, raw, err = getHeaders(raw)
	if err != nil {
		return r, err
	}

	if len(raw) < 1 {
		return r, fmt.Errorf("%w: truncated has_body flag", ErrContractViolation)
	}
	r.HasBody = raw[0] == 1
	raw = raw[1:]

	if r.HasBody {
		var body string
		body, _, err = getString(raw)
		if err != nil {
			return r, err
		}
		r.Body = []byte(body)
	}
	return r, nil
}
