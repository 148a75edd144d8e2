package peers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/isheff/het-paxos-ref/pkg/identity"
)

// Constants for file operations
const (
	// DefaultPeersFile is the default filename for the registry
	DefaultPeersFile = "peers.yaml"
	// TempFileSuffix is the suffix for temporary files during atomic operations
	TempFileSuffix = ".tmp"
	// BackupFileSuffix is the suffix for backup files
	BackupFileSuffix = ".backup"
	// FilePermissions defines the file permissions for registry files
	FilePermissions = 0644
)

// Registry defines the operations of the trusted participant registry
type Registry interface {
	// GetPeers returns all currently loaded peers
	GetPeers() []Peer

	// LoadPeers reloads peers from the backing file and returns them
	LoadPeers() ([]Peer, error)

	// SavePeers replaces the registry contents with the provided peers
	SavePeers(peers []Peer) error

	// AddPeer adds a single peer to the registry
	AddPeer(peer Peer) error

	// RemovePeer removes a peer by certificate PEM text
	RemovePeer(certificate string) error

	// Identity returns the shared parsed identity for a certificate, or
	// false when no peer with that exact certificate text is trusted
	Identity(certificate string) (*identity.PublicKey, bool)

	// Identities returns all trusted identities in their total order
	Identities() []*identity.PublicKey

	// Close closes the registry and releases any resources
	Close() error
}

// FileRegistry implements Registry on a YAML file with atomic writes.
// Certificates are parsed once per load; lookups hand out the shared
// parsed identity so hot verification paths never touch PEM text.
type FileRegistry struct {
	mu       sync.RWMutex // Protects peers, identities and file operations
	filePath string       // Path to the peers.yaml file
	peers    []Peer       // In-memory cache of peer records
	lastMod  time.Time    // Last modification time of the file

	// identities caches the parsed identity for each trusted certificate,
	// keyed by exact PEM text
	identities map[string]*identity.PublicKey
}

// NewFileRegistry creates a registry backed by the file at filePath. An
// existing file is loaded and validated immediately, so a broken trust set
// surfaces at startup rather than at the first inbound message.
func NewFileRegistry(filePath string) (*FileRegistry, error) {
	if filePath == "" {
		filePath = DefaultPeersFile
	}

	registry := &FileRegistry{
		filePath:   filePath,
		peers:      make([]Peer, 0),
		identities: make(map[string]*identity.PublicKey),
	}

	// Load initial peers if file exists
	if _, err := os.Stat(filePath); err == nil {
		if _, err := registry.LoadPeers(); err != nil {
			return nil, fmt.Errorf("failed to load initial peers: %w", err)
		}
	}

	return registry, nil
}

// GetPeers returns all currently loaded peers (thread-safe read)
func (r *FileRegistry) GetPeers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make([]Peer, len(r.peers))
	copy(result, r.peers)
	return result
}

// LoadPeers loads peers from the file and returns them
func (r *FileRegistry) LoadPeers() ([]Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadPeersUnsafe()
}

// loadPeersUnsafe loads peers without locking (internal use only)
func (r *FileRegistry) loadPeersUnsafe() ([]Peer, error) {
	// Check if file exists
	fileInfo, err := os.Stat(r.filePath)
	if os.IsNotExist(err) {
		// File doesn't exist, reset to an empty trust set
		r.peers = make([]Peer, 0)
		r.identities = make(map[string]*identity.PublicKey)
		r.lastMod = time.Time{}
		return r.peers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat peers file: %w", err)
	}

	// Check if file was modified since last load
	if !r.lastMod.IsZero() && fileInfo.ModTime().Equal(r.lastMod) {
		// File hasn't changed, return cached peers
		result := make([]Peer, len(r.peers))
		copy(result, r.peers)
		return result, nil
	}

	// Read and parse file
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read peers file: %w", err)
	}

	var peerList PeerList
	if err := yaml.Unmarshal(data, &peerList); err != nil {
		// File is corrupted, try to create backup and return error
		if backupErr := r.createBackup(); backupErr != nil {
			return nil, fmt.Errorf("failed to parse peers file and backup failed: %w, backup error: %v", err, backupErr)
		}
		return nil, fmt.Errorf("failed to parse peers file (backup created): %w", err)
	}

	// Validate, dedupe and parse identities
	validPeers, identities, err := validateAndFilterPeers(peerList.Peers)
	if err != nil {
		return nil, fmt.Errorf("failed to validate peers: %w", err)
	}

	// Update internal state
	r.peers = validPeers
	r.identities = identities
	r.lastMod = fileInfo.ModTime()

	// Return a copy
	result := make([]Peer, len(r.peers))
	copy(result, r.peers)
	return result, nil
}

// SavePeers saves the provided peers to the registry with atomic operations
func (r *FileRegistry) SavePeers(peers []Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate peers before saving
	validPeers, identities, err := validateAndFilterPeers(peers)
	if err != nil {
		return fmt.Errorf("failed to validate peers before saving: %w", err)
	}

	if err := r.persistUnsafe(validPeers); err != nil {
		return err
	}

	r.identities = identities
	return nil
}

// AddPeer adds a single peer to the registry
func (r *FileRegistry) AddPeer(peer Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the peer and parse its identity once
	if err := peer.validateAddresses(); err != nil {
		return fmt.Errorf("invalid peer: %w", err)
	}
	pub, err := peer.Identity()
	if err != nil {
		return fmt.Errorf("invalid peer: %w", err)
	}

	// Check for duplicates
	for _, existingPeer := range r.peers {
		if existingPeer.Equal(&peer) {
			return fmt.Errorf("peer with certificate %s already exists", pub)
		}
	}

	if err := r.persistUnsafe(append(r.peers, peer)); err != nil {
		return err
	}

	r.identities[peer.Certificate] = pub
	return nil
}

// RemovePeer removes a peer by certificate PEM text
func (r *FileRegistry) RemovePeer(certificate string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Find and remove peer
	var updatedPeers []Peer
	found := false

	for _, peer := range r.peers {
		if peer.Certificate != certificate {
			updatedPeers = append(updatedPeers, peer)
		} else {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("peer with the given certificate not found")
	}

	if err := r.persistUnsafe(updatedPeers); err != nil {
		return err
	}

	delete(r.identities, certificate)
	return nil
}

// Identity returns the shared parsed identity for a certificate. Lookup is
// by exact PEM text; a reformatted copy of a trusted certificate is a
// different name and does not match.
func (r *FileRegistry) Identity(certificate string) (*identity.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pub, ok := r.identities[certificate]
	return pub, ok
}

// Identities returns all trusted identities ordered by their canonical
// PEM text, so iteration order is the same on every node sharing a trust set.
func (r *FileRegistry) Identities() []*identity.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*identity.PublicKey, 0, len(r.identities))
	for _, pub := range r.identities {
		result = append(result, pub)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Compare(result[j]) < 0
	})
	return result
}

// Close closes the registry and releases any resources
func (r *FileRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Clear internal state
	r.peers = nil
	r.identities = nil
	r.lastMod = time.Time{}

	return nil
}

// persistUnsafe marshals peers, writes them atomically and updates the
// in-memory record cache (caller holds the write lock)
func (r *FileRegistry) persistUnsafe(peers []Peer) error {
	peerList := PeerList{
		Peers: peers,
	}

	data, err := yaml.Marshal(&peerList)
	if err != nil {
		return fmt.Errorf("failed to marshal peers to YAML: %w", err)
	}

	if err := r.writeFileAtomic(data); err != nil {
		return fmt.Errorf("failed to write peers file: %w", err)
	}

	r.peers = peers
	if fileInfo, err := os.Stat(r.filePath); err == nil {
		r.lastMod = fileInfo.ModTime()
	}

	return nil
}

// validateAndFilterPeers validates peers, removes duplicates and parses
// each distinct certificate exactly once
func validateAndFilterPeers(peers []Peer) ([]Peer, map[string]*identity.PublicKey, error) {
	var validPeers []Peer
	identities := make(map[string]*identity.PublicKey)

	for i, peer := range peers {
		// Validate peer
		if err := peer.validateAddresses(); err != nil {
			return nil, nil, fmt.Errorf("peer %d is invalid: invalid addresses: %w", i, err)
		}
		pub, err := peer.Identity()
		if err != nil {
			return nil, nil, fmt.Errorf("peer %d is invalid: invalid certificate: %w", i, err)
		}

		// Check for duplicates
		if _, seen := identities[peer.Certificate]; seen {
			// Skip duplicate peer, but continue processing
			continue
		}

		identities[peer.Certificate] = pub
		validPeers = append(validPeers, peer)
	}

	return validPeers, identities, nil
}

// writeFileAtomic writes data to file atomically using temp file + rename
func (r *FileRegistry) writeFileAtomic(data []byte) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temporary file in the same directory
	tempFile := r.filePath + TempFileSuffix
	file, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	// Ensure temp file is cleaned up on error
	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	// Write data
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// Sync to disk
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	// Close file
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	file = nil // Mark as closed

	// Atomic rename
	if err := os.Rename(tempFile, r.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// createBackup creates a backup of the current peers file
func (r *FileRegistry) createBackup() error {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	backupPath := r.filePath + BackupFileSuffix
	return copyFile(r.filePath, backupPath)
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return destFile.Sync()
}
