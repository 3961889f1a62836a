package whitelistkit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MaxMetadataBytes bounds the serialized metadata of a grant.
const MaxMetadataBytes = 10 * 1024

// MetadataVersion is the current metadata layout.
const MetadataVersion = 1

// UpgradedFromSecurityBlock is recorded when a blocked role grant is approved.
const UpgradedFromSecurityBlock = "security_blocked"

// Metadata is a closed, versioned record attached to a grant. Exactly one of
// the source specific sections is expected to be set, matching Source.
type Metadata struct {
	Version  int               `json:"v"`
	Source   GrantSource       `json:"source,omitempty"`
	Role     *RoleMetadata     `json:"role,omitempty"`
	Manual   *ManualMetadata   `json:"manual,omitempty"`
	Donation *DonationMetadata `json:"donation,omitempty"`
	Import   *ImportMetadata   `json:"import,omitempty"`
}

// RoleMetadata tracks role sync history and security block transitions.
type RoleMetadata struct {
	DiscordRoleID     string     `json:"discord_role_id,omitempty"`
	PreviousRole      string     `json:"previous_role,omitempty"`
	PreviousSteamID   string     `json:"previous_steam_id,omitempty"`
	RoleChangedAt     *time.Time `json:"role_changed_at,omitempty"`
	ConfidenceScore   float64    `json:"confidence_score"`
	SecurityBlockedAt *time.Time `json:"security_blocked_at,omitempty"`
	Upgraded          bool       `json:"upgraded,omitempty"`
	UpgradedFrom      string     `json:"upgraded_from,omitempty"`
	UpgradedAt        *time.Time `json:"upgraded_at,omitempty"`
}

// ManualMetadata carries the admin note of a manual grant.
type ManualMetadata struct {
	Note string `json:"note,omitempty"`
}

// DonationMetadata carries the donation event that produced a grant.
type DonationMetadata struct {
	Provider      string `json:"provider,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ImportMetadata carries where an imported grant came from.
type ImportMetadata struct {
	Batch      string            `json:"batch,omitempty"`
	OriginFile string            `json:"origin_file,omitempty"`
	LineNumber int               `json:"line_number,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// NewRoleMetadata returns metadata for a role-derived grant.
func NewRoleMetadata(rm RoleMetadata) Metadata {
	return Metadata{Version: MetadataVersion, Source: SourceRole, Role: &rm}
}

// RoleSection returns the role section, creating it when absent.
func (m *Metadata) RoleSection() *RoleMetadata {
	if m.Role == nil {
		m.Role = &RoleMetadata{}
	}
	if m.Version == 0 {
		m.Version = MetadataVersion
	}
	if m.Source == "" {
		m.Source = SourceRole
	}
	return m.Role
}

// Encode serializes the metadata and enforces MaxMetadataBytes.
func (m Metadata) Encode() ([]byte, error) {
	if m.Version == 0 {
		m.Version = MetadataVersion
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "metadata is not serializable: "+err.Error())
	}
	if len(b) > MaxMetadataBytes {
		return nil, NewError(ErrMetadataTooLarge,
			fmt.Sprintf("metadata is %d bytes, limit is %d", len(b), MaxMetadataBytes))
	}
	return b, nil
}

// Validate checks the size bound and that the section matches the source.
func (m Metadata) Validate(source GrantSource) error {
	if _, err := m.Encode(); err != nil {
		return err
	}
	if m.Source != "" && m.Source != source {
		return NewError(ErrInvalidGrant,
			fmt.Sprintf("metadata for source %q attached to %q grant", m.Source, source))
	}
	sections := 0
	for _, set := range []bool{m.Role != nil, m.Manual != nil, m.Donation != nil, m.Import != nil} {
		if set {
			sections++
		}
	}
	if sections > 1 {
		return NewError(ErrInvalidGrant, "metadata must carry a single source section")
	}
	return nil
}

// DecodeMetadata parses a stored metadata blob.
func DecodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	if len(b) == 0 {
		return m, nil
	}
	if len(b) > MaxMetadataBytes {
		return m, NewError(ErrMetadataTooLarge, fmt.Sprintf("stored metadata is %d bytes", len(b)))
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, NewError(ErrInvalidGrant, "metadata is not valid JSON: "+err.Error())
	}
	return m, nil
}

// Value implements driver.Valuer so oversized metadata never reaches the database.
func (m Metadata) Value() (driver.Value, error) {
	b, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("whitelistkit: cannot scan %T into Metadata", src)
	}
	decoded, err := DecodeMetadata(b)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}
