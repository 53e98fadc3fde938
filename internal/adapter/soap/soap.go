// Package soap is a minimal SOAP 1.1 caller for the bank interfaces,
// which expose single RPC-style operations returning one scalar result.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Param is one ordered operation argument.
type Param struct {
	Name  string
	Value string
}

type Client struct {
	http *http.Client
	log  *zap.SugaredLogger
}

// NewClient wraps an http.Client; the caller configures the timeout that
// bounds every provider round-trip.
func NewClient(httpClient *http.Client, log *zap.SugaredLogger) *Client {
	return &Client{http: httpClient, log: log}
}

// Call invokes one operation and returns the text of the result element.
// Both bank protocols reply with a single scalar (an integer result code
// or a "code,token" pair), so the innermost character data of the
// response body is the result.
func (c *Client) Call(ctx context.Context, endpoint, namespace, operation string, params []Param) (string, error) {
	body, err := buildEnvelope(namespace, operation, params)
	if err != nil {
		return "", fmt.Errorf("building %s envelope: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", "")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling %s at %s: %w", operation, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s response: %w", operation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned HTTP %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	result, err := extractResult(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s response: %w", operation, err)
	}
	c.log.Debugw("soap call completed", "operation", operation, "endpoint", endpoint, "result", result)
	return result, nil
}

func buildEnvelope(namespace, operation string, params []Param) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`)
	fmt.Fprintf(&buf, `<ns:%s xmlns:ns=%q>`, operation, namespace)
	for _, p := range params {
		buf.WriteString("<" + p.Name + ">")
		if err := xml.EscapeText(&buf, []byte(p.Value)); err != nil {
			return nil, err
		}
		buf.WriteString("</" + p.Name + ">")
	}
	fmt.Fprintf(&buf, `</ns:%s>`, operation)
	buf.WriteString(`</soapenv:Body></soapenv:Envelope>`)
	return buf.Bytes(), nil
}

// extractResult returns the innermost non-empty character data of the
// response document.
func extractResult(raw []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	result := ""
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if cd, ok := tok.(xml.CharData); ok {
			if text := strings.TrimSpace(string(cd)); text != "" {
				result = text
			}
		}
	}
	if result == "" {
		return "", fmt.Errorf("no result element in response")
	}
	return result, nil
}
