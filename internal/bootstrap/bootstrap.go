// Package bootstrap resolves the list of contact multiaddrs a node
// dials on startup, trying progressively less specific sources: an
// explicit flag/config/ANT_PEERS list (config.CoreConfig.ApplyEnv folds
// ANT_PEERS into Network.BootstrapPeers before Resolve ever runs), a
// cached contacts file from a previous run, and finally an HTTPS
// contacts-list URL. Grounded on the teacher's backend.MempoolBackend
// HTTP client pattern (internal/backend/mempool.go: trimmed base URL,
// http.Client with a fixed timeout) generalized from a blockchain
// indexer API call to fetching a flat peer list.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ant-overlay/antcore/internal/config"
)

const cacheFileName = "contacts.json"
const fetchTimeout = 15 * time.Second

// Resolve returns the bootstrap multiaddr list to dial, trying sources
// in order until one yields a non-empty list: cfg.Network.BootstrapPeers
// (already carrying any explicit flag value merged with ANT_PEERS by
// ApplyEnv), the on-disk cache, then cfg's ContactsURL. A list fetched
// from the contacts URL is written to the cache so a later run finds it
// there without going to the network.
func Resolve(cfg *config.CoreConfig) []string {
	if len(cfg.Network.BootstrapPeers) > 0 {
		return cfg.Network.BootstrapPeers
	}

	if peers := cacheRead(cfg.Storage.DataDir); len(peers) > 0 {
		return peers
	}

	if cfg.Network.ContactsURL != "" {
		peers, err := fetchContactsURL(cfg.Network.ContactsURL)
		if err == nil && len(peers) > 0 {
			cacheWrite(cfg.Storage.DataDir, peers)
			return peers
		}
	}

	return nil
}

func fetchContactsURL(url string) ([]string, error) {
	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: fetch contacts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bootstrap: contacts url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read contacts body: %w", err)
	}

	var peers []string
	if err := json.Unmarshal(body, &peers); err != nil {
		return nil, fmt.Errorf("bootstrap: parse contacts json: %w", err)
	}
	return peers, nil
}

func cachePath(dataDir string) string {
	return filepath.Join(config.ExpandPath(dataDir), cacheFileName)
}

func cacheRead(dataDir string) []string {
	data, err := os.ReadFile(cachePath(dataDir))
	if err != nil {
		return nil
	}
	var peers []string
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil
	}
	return peers
}

// cacheWrite persists peers to <dataDir>/contacts.json via a
// temp-file-then-rename, so a crash mid-write never leaves a truncated
// cache behind for the next startup to read.
func cacheWrite(dataDir string, peers []string) {
	dir := config.ExpandPath(dataDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	data, err := json.Marshal(peers)
	if err != nil {
		return
	}
	path := cachePath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}
