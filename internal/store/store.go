// Package store persists controller state as line-oriented files under a
// single state directory. All writes go through an atomic temp-file+rename
// so a concurrent reader never observes a partially written record.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mode identifies the operating mode of the wireless interface.
type Mode string

const (
	ModeUnknown     Mode = "unknown"
	ModeAccessPoint Mode = "ap"
	ModeClient      Mode = "client"
)

// IsValid reports whether m is a known mode value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeUnknown, ModeAccessPoint, ModeClient:
		return true
	}
	return false
}

// SecurityKind identifies the wireless security of stored credentials.
type SecurityKind string

const (
	SecurityOpen   SecurityKind = "open"
	SecurityWPAPSK SecurityKind = "wpa-psk"
)

// PendingKind identifies the network configuration computed at install time.
type PendingKind string

const (
	PendingDHCP       PendingKind = "dhcp"
	PendingStaticAP   PendingKind = "static_ap"
	PendingStaticOnly PendingKind = "static_only"
)

// Credentials are the target-network credentials saved by the portal or CLI.
type Credentials struct {
	SSID     string
	Secret   string
	Security SecurityKind
}

// PendingConfiguration is the install-time record consumed once at boot.
type PendingConfiguration struct {
	Kind PendingKind
}

// ModeMarker is the durable record of the last completed mode transition.
type ModeMarker struct {
	Mode      Mode
	EnteredAt time.Time
}

// ValidationError reports malformed credential input. It is returned before
// anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const (
	credentialsFile    = "credentials"
	pendingFile        = "pending.conf"
	pendingAppliedFile = "pending.applied"
	modeFile           = "mode"
)

// Store is the file-backed configuration store.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// SaveClientCredentials validates and persists target-network credentials,
// atomically replacing any previous record.
func (s *Store) SaveClientCredentials(ssid, secret string, security SecurityKind) error {
	if len(ssid) < 1 || len(ssid) > 32 {
		return &ValidationError{Field: "ssid", Reason: fmt.Sprintf("length must be 1-32 bytes, got %d", len(ssid))}
	}
	if strings.ContainsAny(ssid, "\n\r") {
		return &ValidationError{Field: "ssid", Reason: "must not contain line breaks"}
	}
	switch security {
	case SecurityOpen:
		if secret != "" {
			return &ValidationError{Field: "secret", Reason: "must be empty for an open network"}
		}
	case SecurityWPAPSK:
		if len(secret) < 8 || len(secret) > 63 {
			return &ValidationError{Field: "secret", Reason: fmt.Sprintf("length must be 8-63 bytes, got %d", len(secret))}
		}
	default:
		return &ValidationError{Field: "security", Reason: fmt.Sprintf("unknown kind %q", security)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ssid=%s\n", ssid)
	fmt.Fprintf(&b, "secret=%s\n", secret)
	fmt.Fprintf(&b, "security=%s\n", security)

	if err := s.writeFileAtomic(s.path(credentialsFile), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// ReadClientCredentials returns the stored credentials, or nil if absent.
func (s *Store) ReadClientCredentials() (*Credentials, error) {
	fields, err := s.readFields(s.path(credentialsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	c := &Credentials{
		SSID:     fields["ssid"],
		Secret:   fields["secret"],
		Security: SecurityKind(fields["security"]),
	}
	if c.SSID == "" {
		return nil, fmt.Errorf("read credentials: missing ssid field")
	}
	if c.Security == "" {
		c.Security = SecurityWPAPSK
	}
	return c, nil
}

// HasClientCredentials reports whether a credential record exists.
func (s *Store) HasClientCredentials() bool {
	_, err := os.Stat(s.path(credentialsFile))
	return err == nil
}

// RemoveClientCredentials deletes the credential record. Removing an absent
// record is not an error.
func (s *Store) RemoveClientCredentials() error {
	if err := os.Remove(s.path(credentialsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// ReadPendingConfiguration returns the install-time pending record, or nil
// when it is absent or already applied.
func (s *Store) ReadPendingConfiguration() (*PendingConfiguration, error) {
	if s.PendingApplied() {
		return nil, nil
	}

	fields, err := s.readFields(s.path(pendingFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending configuration: %w", err)
	}

	kind := PendingKind(fields["kind"])
	switch kind {
	case PendingDHCP, PendingStaticAP, PendingStaticOnly:
		return &PendingConfiguration{Kind: kind}, nil
	default:
		return nil, fmt.Errorf("read pending configuration: unknown kind %q", fields["kind"])
	}
}

// PendingApplied reports whether the pending configuration was already applied.
func (s *Store) PendingApplied() bool {
	_, err := os.Stat(s.path(pendingAppliedFile))
	return err == nil
}

// MarkPendingConfigurationApplied records that the pending configuration has
// been applied and removes the pending record. Safe to call twice.
func (s *Store) MarkPendingConfigurationApplied() error {
	if err := s.writeFileAtomic(s.path(pendingAppliedFile), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("mark pending applied: %w", err)
	}
	if err := os.Remove(s.path(pendingFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pending record: %w", err)
	}
	return nil
}

// WritePendingConfiguration persists an install-time pending record. Used by
// the installer and by tests; the controller itself only consumes it.
func (s *Store) WritePendingConfiguration(kind PendingKind) error {
	switch kind {
	case PendingDHCP, PendingStaticAP, PendingStaticOnly:
	default:
		return fmt.Errorf("write pending configuration: unknown kind %q", kind)
	}
	content := fmt.Sprintf("kind=%s\n", kind)
	if err := s.writeFileAtomic(s.path(pendingFile), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write pending configuration: %w", err)
	}
	return nil
}

// ReadModeMarker returns the durable mode marker. A missing or malformed
// marker reads as ModeUnknown.
func (s *Store) ReadModeMarker() (ModeMarker, error) {
	fields, err := s.readFields(s.path(modeFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ModeMarker{Mode: ModeUnknown}, nil
		}
		return ModeMarker{Mode: ModeUnknown}, fmt.Errorf("read mode marker: %w", err)
	}

	m := ModeMarker{Mode: Mode(fields["mode"])}
	if !m.Mode.IsValid() {
		m.Mode = ModeUnknown
	}
	if ts, tsErr := time.Parse(time.RFC3339, fields["entered_at"]); tsErr == nil {
		m.EnteredAt = ts
	}
	return m, nil
}

// WriteModeMarker durably records a completed transition into mode.
func (s *Store) WriteModeMarker(mode Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("write mode marker: invalid mode %q", mode)
	}
	content := fmt.Sprintf("mode=%s\nentered_at=%s\n", mode, time.Now().UTC().Format(time.RFC3339))
	if err := s.writeFileAtomic(s.path(modeFile), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write mode marker: %w", err)
	}
	return nil
}

func failureFile(mode Mode) string {
	return "failures." + string(mode)
}

// FailureCount returns the persisted consecutive-failure count for mode.
// A missing counter reads as zero.
func (s *Store) FailureCount(mode Mode) (int, error) {
	data, err := os.ReadFile(s.path(failureFile(mode)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read failure count for %s: %w", mode, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse failure count for %s: %w", mode, err)
	}
	return n, nil
}

// IncrementFailureCount bumps and persists the counter, returning the new value.
func (s *Store) IncrementFailureCount(mode Mode) (int, error) {
	n, err := s.FailureCount(mode)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.writeFileAtomic(s.path(failureFile(mode)), []byte(strconv.Itoa(n)+"\n"), 0o644); err != nil {
		return 0, fmt.Errorf("write failure count for %s: %w", mode, err)
	}
	return n, nil
}

// ResetFailureCount zeroes the counter for mode.
func (s *Store) ResetFailureCount(mode Mode) error {
	if err := os.Remove(s.path(failureFile(mode))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reset failure count for %s: %w", mode, err)
	}
	return nil
}

// readFields parses a key=value file, ignoring blank lines and # comments.
func (s *Store) readFields(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields, scanner.Err()
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers see either the old or the new content.
func (s *Store) writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
