package archive

import (
	"encoding/json"
	"path"
	"time"
)

// Well-known keys.
const (
	ManifestKey   = "manifest.json"
	storagePrefix = "storage"
)

// BackupFileInfo locates one blob of the migrated user.
type BackupFileInfo struct {
	Domain string `json:"domain"`
	Module string `json:"module"`
	Path   string `json:"path"`
	Tenant int64  `json:"tenant"`
}

// Key returns the archive key of the blob.
func (f BackupFileInfo) Key() string {
	if f.Domain == "" {
		return path.Join(storagePrefix, f.Module, f.Path)
	}
	return path.Join(storagePrefix, f.Module, f.Domain, f.Path)
}

// Dedupe removes value-equal duplicates, keeping first occurrences in order.
func Dedupe(files []BackupFileInfo) []BackupFileInfo {
	seen := make(map[BackupFileInfo]bool, len(files))
	out := files[:0:0]
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// TableEntry records one table snapshot in the manifest.
type TableEntry struct {
	Key  string `json:"key"`
	Rows int    `json:"rows"`
}

// Manifest is the final entry of every archive.
type Manifest struct {
	ID             string           `json:"id"`
	CreatedAt      time.Time        `json:"created_at"`
	SourceRegion   string           `json:"source_region"`
	SourceAlias    string           `json:"source_alias"`
	SourceTenantID int64            `json:"source_tenant_id"`
	UserID         string           `json:"user_id"`
	DestRegion     string           `json:"dest_region"`
	DestAlias      string           `json:"dest_alias"`
	NewTenant      bool             `json:"new_tenant"`
	TotalBytes     int64            `json:"total_bytes"`
	Compression    CompressionType  `json:"compression"`
	Tables         []TableEntry     `json:"tables"`
	Files          []BackupFileInfo `json:"files"`
}

// ToJSON serializes the manifest to JSON.
func (m *Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest deserializes a manifest from JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
