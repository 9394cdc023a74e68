package miracast

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const rtspVersion = "RTSP/1.0"

// Request is one parsed RTSP request. Header lookup is case-insensitive;
// nothing outlives the exchange.
type Request struct {
	Method  string
	URI     string
	Version string
	headers map[string]string
	Body    string
}

// Header returns the value for a header name, case-insensitively.
func (r *Request) Header(name string) string {
	return r.headers[strings.ToLower(name)]
}

// ErrMalformedRequestLine marks a request line with fewer than three tokens.
// The read loop treats it as end-of-session, not as a fault.
var ErrMalformedRequestLine = fmt.Errorf("malformed RTSP request line")

// ReadRequest parses one RTSP request from the control connection, including
// a Content-Length-delimited body when present.
func ReadRequest(reader *bufio.Reader) (*Request, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	tokens := strings.Fields(strings.TrimSpace(line))
	if len(tokens) < 3 {
		return nil, ErrMalformedRequestLine
	}

	req := &Request{
		Method:  tokens[0],
		URI:     tokens[1],
		Version: tokens[2],
		headers: make(map[string]string),
	}

	for {
		headerLine, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		headerLine = strings.TrimRight(headerLine, "\r\n")
		if headerLine == "" {
			break
		}
		idx := strings.Index(headerLine, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(headerLine[:idx]))
		req.headers[key] = strings.TrimSpace(headerLine[idx+1:])
	}

	if lengthValue := req.Header("Content-Length"); lengthValue != "" {
		length, err := strconv.Atoi(lengthValue)
		if err != nil || length < 0 {
			return req, nil
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, err
		}
		req.Body = string(body)
	}

	return req, nil
}

// header preserves response header emission order.
type header struct {
	name  string
	value string
}

// Response is one RTSP response about to be written. Headers keep insertion
// order; CSeq is always echoed first.
type Response struct {
	Status  int
	Reason  string
	headers []header
	Body    string
}

// NewResponse builds a response echoing the request's CSeq.
func NewResponse(status int, reason, cseq string) *Response {
	resp := &Response{Status: status, Reason: reason}
	if cseq != "" {
		resp.AddHeader("CSeq", cseq)
	}
	return resp
}

func (r *Response) AddHeader(name, value string) *Response {
	r.headers = append(r.headers, header{name: name, value: value})
	return r
}

func (r *Response) SetBody(contentType, body string) *Response {
	r.Body = body
	r.AddHeader("Content-Type", contentType)
	r.AddHeader("Content-Length", strconv.Itoa(len(body)))
	return r
}

// Format renders the response wire text.
func (r *Response) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", rtspVersion, r.Status, r.Reason)
	for _, h := range r.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.name, h.value)
	}
	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return b.String()
}
