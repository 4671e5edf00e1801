// Package store holds the GORM-backed side tables that sit next to the
// Chat Repository's raw-SQL hot path: the known-device ledger used by the
// Auth Client to decide whether an unfamiliar device fingerprint needs
// step-up verification (§6: Auth Service).
//
// Grounded on the teacher's internal/handlers/chat_handler.go, the one
// file in the pack that actually wires *gorm.DB; kept narrowly scoped to
// this one table so the hot message/chat path stays on lib/pq and
// prepared statements.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// KnownDevice is one (user, device fingerprint) pairing this server has
// already seen and does not need to challenge again.
type KnownDevice struct {
	ID          uint64 `gorm:"primaryKey"`
	UserHash    string `gorm:"column:user_hash;uniqueIndex:idx_user_device"`
	DeviceFP    string `gorm:"column:device_fp;uniqueIndex:idx_user_device"`
	Label       string `gorm:"column:label"`
	FirstSeenAt time.Time `gorm:"column:first_seen_at"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
}

// TableName pins the GORM model to the migration-managed table name.
func (KnownDevice) TableName() string { return "known_devices" }

// KnownDeviceLedger is the narrow GORM-backed repository for KnownDevice.
type KnownDeviceLedger struct {
	db *gorm.DB
}

// NewKnownDeviceLedger wraps an already-connected *gorm.DB.
func NewKnownDeviceLedger(db *gorm.DB) *KnownDeviceLedger {
	return &KnownDeviceLedger{db: db}
}

// IsKnown reports whether this device fingerprint has been seen before
// for this user — the fast path the Auth Client takes before deciding a
// mismatched fingerprint needs step-up rather than outright rejection.
func (l *KnownDeviceLedger) IsKnown(ctx context.Context, userHash, deviceFP string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&KnownDevice{}).
		Where("user_hash = ? AND device_fp = ?", userHash, deviceFP).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Remember upserts the (user, device) pairing, extending last_seen_at on
// an existing row rather than duplicating it.
func (l *KnownDeviceLedger) Remember(ctx context.Context, userHash, deviceFP, label string) error {
	now := time.Now()
	var existing KnownDevice
	err := l.db.WithContext(ctx).
		Where("user_hash = ? AND device_fp = ?", userHash, deviceFP).
		First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		return l.db.WithContext(ctx).Create(&KnownDevice{
			UserHash: userHash, DeviceFP: deviceFP, Label: label,
			FirstSeenAt: now, LastSeenAt: now,
		}).Error
	}
	if err != nil {
		return err
	}

	existing.LastSeenAt = now
	if label != "" {
		existing.Label = label
	}
	return l.db.WithContext(ctx).Save(&existing).Error
}

// Forget removes every known device for a user, used when an account's
// devices should all be re-challenged (e.g. after a suspected compromise).
func (l *KnownDeviceLedger) Forget(ctx context.Context, userHash string) error {
	return l.db.WithContext(ctx).Where("user_hash = ?", userHash).Delete(&KnownDevice{}).Error
}
