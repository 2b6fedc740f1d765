package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/schematic"
)

const maxSchematicSize = 32 << 20 // 32 MB

var (
	mimeToExt = map[string]string{
		"application/gzip":         schematic.ExtLitematic,
		"application/x-gzip":       schematic.ExtLitematic,
		"application/octet-stream": schematic.ExtLitematic,
		"application/yaml":         schematic.ExtYAML,
		"application/x-yaml":       schematic.ExtYAML,
		"text/yaml":                schematic.ExtYAML,
		"text/plain":               schematic.ExtYAML,
	}

	gzipMagic = []byte{0x1f, 0x8b}

	safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

type addResult struct {
	SavedPath string `json:"savedPath"`
	Queued    bool   `json:"queued"`
}

func (s *Server) addSchematic(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := req.GetString("filename", "")

	var data []byte
	var detectedExt string
	if strings.HasPrefix(rawURL, "data:") {
		data, detectedExt, err = decodeDataURI(rawURL)
	} else {
		data, detectedExt, err = fetchHTTP(rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxSchematicSize {
		return errf("file too large: %d bytes (max %d)", len(data), maxSchematicSize), nil
	}

	if detectedExt == "" || (detectedExt == schematic.ExtLitematic && !bytes.HasPrefix(data, gzipMagic)) {
		detectedExt = sniffExt(data)
	}
	if filename == "" {
		filename = filenameFromURL(rawURL, detectedExt)
	}
	filename = sanitizeFilename(filename)

	ext := strings.ToLower(filepath.Ext(filename))
	if !schematic.Supported(filename) {
		return errf("unsupported file extension: %s (allowed: litematic, yaml, yml)", ext), nil
	}
	if err := validateContent(data, ext); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	saved, err := s.catalog.Write(filename, data)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return errf("file already exists: %s", filename), nil
		}
		return errf("failed to save schematic: %v", err), nil
	}

	queued := false
	if s.queue != nil {
		queued = s.queue.Enqueue(saved)
	}
	out, _ := json.Marshal(addResult{SavedPath: filename, Queued: queued})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a data:[<mediatype>][;base64],<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	return data, mimeToExt[mime], nil
}

// fetchHTTP downloads a file from an HTTP/HTTPS URL with security checks.
func fetchHTTP(rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	resp, err := client.Get(rawURL) //nolint:noctx
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSchematicSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxSchematicSize {
		return nil, "", fmt.Errorf("file too large: exceeds %d bytes", maxSchematicSize)
	}

	ct := resp.Header.Get("Content-Type")
	return data, mimeToExt[strings.Split(ct, ";")[0]], nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// sniffExt guesses the schematic format from content.
func sniffExt(data []byte) string {
	if bytes.HasPrefix(data, gzipMagic) {
		return schematic.ExtLitematic
	}
	return schematic.ExtYAML
}

// filenameFromURL tries to extract a filename from a URL, falling back to UUID.
func filenameFromURL(rawURL string, ext string) string {
	if !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	return uuid.New().String() + ext
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || strings.HasPrefix(name, ".") {
		name = uuid.New().String() + name
	}
	return name
}

// validateContent checks data decodes as the format its extension claims.
func validateContent(data []byte, ext string) error {
	switch ext {
	case schematic.ExtLitematic:
		if !bytes.HasPrefix(data, gzipMagic) {
			return fmt.Errorf("content is not a gzip-compressed litematic")
		}
	default:
		if !utf8.Valid(data) {
			return fmt.Errorf("content is not UTF-8 text")
		}
		s, err := schematic.DecodeYAML(data)
		if err != nil {
			return fmt.Errorf("content is not a valid schematic: %w", err)
		}
		if len(s.Regions) == 0 {
			return fmt.Errorf("schematic has no regions")
		}
	}
	return nil
}
