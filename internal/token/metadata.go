package token

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mkarrer/swapdesk/internal/pubkey"
	"github.com/mkarrer/swapdesk/internal/rpcclient"
)

// Metadata is the displayable description of an asset. On-ledger fields
// always populate; the off-ledger URI fields degrade to empty when the
// secondary fetch fails.
type Metadata struct {
	Asset       pubkey.PublicKey `json:"asset"`
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	Description string           `json:"description,omitempty"`
	Image       string           `json:"image,omitempty"`
	Decimals    uint8            `json:"decimals"`
	URI         string           `json:"uri,omitempty"`
}

// mint account layout offsets
const (
	mintDecimalsOffset = 44 // 4 authority option + 32 authority + 8 supply
	mintAccountMinLen  = 82
)

// metadata record layout: 1 key + 32 update authority + 32 mint, then
// length-prefixed padded strings name, symbol, uri.
const metadataStringsOffset = 65

// MetadataService fetches and caches asset metadata. Entries are
// immutable for the life of the process; a miss refetches.
type MetadataService struct {
	client rpcclient.Client
	http   *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[pubkey.PublicKey]*Metadata
}

// NewMetadataService creates a metadata fetcher with a bounded HTTP client.
func NewMetadataService(client rpcclient.Client, logger *slog.Logger) *MetadataService {
	return &MetadataService{
		client: client,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		cache:  make(map[pubkey.PublicKey]*Metadata),
	}
}

// Fetch returns metadata for an asset, from cache when available.
func (m *MetadataService) Fetch(ctx context.Context, asset pubkey.PublicKey) (*Metadata, error) {
	m.mu.RLock()
	if cached, ok := m.cache[asset]; ok {
		m.mu.RUnlock()
		return cached, nil
	}
	m.mu.RUnlock()

	info, err := m.client.GetAccountInfo(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("token: metadata mint lookup: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	if len(info.Data) < mintAccountMinLen {
		return nil, fmt.Errorf("token: malformed mint record for %s (%d bytes)", asset, len(info.Data))
	}

	meta := &Metadata{
		Asset:    asset,
		Decimals: info.Data[mintDecimalsOffset],
	}

	// On-ledger name/symbol/uri live in the metadata program's record;
	// absence is fine for bare assets.
	if name, symbol, uri, ok := m.fetchRecord(ctx, asset); ok {
		meta.Name, meta.Symbol, meta.URI = name, symbol, uri
	}

	// Secondary fetch of the off-ledger URI. Failure degrades to
	// on-ledger fields only, never aborts the caller.
	if meta.URI != "" {
		if desc, image, name, symbol := m.fetchURI(ctx, meta.URI); desc != "" || image != "" {
			meta.Description, meta.Image = desc, image
			if meta.Name == "" {
				meta.Name = name
			}
			if meta.Symbol == "" {
				meta.Symbol = symbol
			}
		}
	}

	m.mu.Lock()
	m.cache[asset] = meta
	m.mu.Unlock()
	return meta, nil
}

func (m *MetadataService) fetchRecord(ctx context.Context, asset pubkey.PublicKey) (name, symbol, uri string, ok bool) {
	recordAddr, _, err := pubkey.MetadataAddress(asset)
	if err != nil {
		return "", "", "", false
	}
	info, err := m.client.GetAccountInfo(ctx, recordAddr)
	if err != nil || info == nil {
		return "", "", "", false
	}

	data := info.Data
	pos := metadataStringsOffset
	name, pos, ok = readPaddedString(data, pos)
	if !ok {
		return "", "", "", false
	}
	symbol, pos, ok = readPaddedString(data, pos)
	if !ok {
		return "", "", "", false
	}
	uri, _, ok = readPaddedString(data, pos)
	return name, symbol, uri, ok
}

// readPaddedString decodes a u32-length-prefixed string whose buffer is
// zero-padded to a fixed width.
func readPaddedString(data []byte, pos int) (string, int, bool) {
	if pos+4 > len(data) {
		return "", pos, false
	}
	n := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return "", pos, false
	}
	s := strings.TrimRight(string(data[pos:pos+n]), "\x00")
	return s, pos + n, true
}

func (m *MetadataService) fetchURI(ctx context.Context, uri string) (description, image, name, symbol string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", "", "", ""
	}
	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Warn("metadata URI fetch failed", "uri", uri, "error", err)
		return "", "", "", ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.logger.Warn("metadata URI fetch failed", "uri", uri, "status", resp.StatusCode)
		return "", "", "", ""
	}

	var body struct {
		Name        string `json:"name"`
		Symbol      string `json:"symbol"`
		Description string `json:"description"`
		Image       string `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		m.logger.Warn("metadata URI decode failed", "uri", uri, "error", err)
		return "", "", "", ""
	}
	return body.Description, body.Image, body.Name, body.Symbol
}
