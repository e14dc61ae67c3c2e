/*
 * Accounts
 * Copyright (C) 2025  Accounts Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package gormbk implements the storage backend interface on top of a
// MySQL database accessed through GORM. All items live in a single
// ordered key-value table; uniqueness is enforced by the primary key,
// so create-if-absent is atomic across processes.
package gormbk

import (
	"context"
	"errors"

	sqlmysql "github.com/go-sql-driver/mysql"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jpslav/accounts/lib/backend"
)

// Config holds MySQL backend configuration.
type Config struct {
	// DSN is the MySQL data source name, e.g.
	// "user:pass@tcp(localhost:3306)/accounts?parseTime=true".
	DSN string `yaml:"dsn"`
	// Clock overrides the backend clock; defaults to the real clock.
	Clock clockwork.Clock `yaml:"-"`
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DSN == "" {
		return trace.BadParameter("missing parameter DSN")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ConfigFromParams builds a Config from the generic storage params.
func ConfigFromParams(params backend.Params) (*Config, error) {
	cfg := Config{DSN: params.GetString("dsn")}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

type row struct {
	Key   string `gorm:"column:k;primaryKey;size:512"`
	Value []byte `gorm:"column:v"`
}

// TableName implements the GORM table naming convention hook.
func (row) TableName() string { return "kv_items" }

// Backend is a MySQL-backed implementation of backend.Backend.
type Backend struct {
	cfg Config
	db  *gorm.DB
}

// withFoundRows rewrites the DSN so the server reports matched rather
// than changed rows. Without it MySQL reports zero affected rows for an
// Update that writes a value identical to the stored one, which is
// indistinguishable from a missing key.
func withFoundRows(dsn string) (string, error) {
	parsed, err := sqlmysql.ParseDSN(dsn)
	if err != nil {
		return "", trace.BadParameter("invalid DSN: %v", err)
	}
	parsed.ClientFoundRows = true
	return parsed.FormatDSN(), nil
}

// New connects to MySQL and migrates the key-value table.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	dsn, err := withFoundRows(cfg.DSN)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&row{}); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Backend{cfg: cfg, db: db}, nil
}

// Create creates the item if it does not exist.
func (b *Backend) Create(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	err := b.db.WithContext(ctx).Create(&row{Key: string(i.Key), Value: i.Value}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return trace.AlreadyExists("key %q already exists", string(i.Key))
	}
	return trace.Wrap(err)
}

// Put puts the value into the backend, overwriting an existing item.
func (b *Backend) Put(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&row{Key: string(i.Key), Value: i.Value}).Error
	return trace.Wrap(err)
}

// Update overwrites an existing item.
func (b *Backend) Update(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	tx := b.db.WithContext(ctx).Model(&row{}).Where("k = ?", string(i.Key)).Update("v", i.Value)
	if tx.Error != nil {
		return trace.Wrap(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return trace.NotFound("key %q is not found", string(i.Key))
	}
	return nil
}

// Get returns a single item or a NotFound error.
func (b *Backend) Get(ctx context.Context, key []byte) (*backend.Item, error) {
	if len(key) == 0 {
		return nil, trace.BadParameter("missing parameter key")
	}
	var r row
	err := b.db.WithContext(ctx).First(&r, "k = ?", string(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, trace.NotFound("key %q is not found", string(key))
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &backend.Item{Key: []byte(r.Key), Value: r.Value}, nil
}

// GetRange returns items with keys between startKey and endKey,
// inclusive.
func (b *Backend) GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*backend.GetResult, error) {
	if len(startKey) == 0 {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	tx := b.db.WithContext(ctx).
		Where("k >= ? AND k <= ?", string(startKey), string(endKey)).
		Order("k")
	if limit != backend.NoLimit {
		tx = tx.Limit(limit)
	}
	var rows []row
	if err := tx.Find(&rows).Error; err != nil {
		return nil, trace.Wrap(err)
	}
	res := backend.GetResult{Items: make([]backend.Item, 0, len(rows))}
	for _, r := range rows {
		res.Items = append(res.Items, backend.Item{Key: []byte(r.Key), Value: r.Value})
	}
	return &res, nil
}

// Delete deletes the item by key.
func (b *Backend) Delete(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	tx := b.db.WithContext(ctx).Delete(&row{}, "k = ?", string(key))
	if tx.Error != nil {
		return trace.Wrap(tx.Error)
	}
	if tx.RowsAffected == 0 {
		return trace.NotFound("key %q is not found", string(key))
	}
	return nil
}

// DeleteRange deletes all items with keys between startKey and endKey,
// inclusive.
func (b *Backend) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	if len(startKey) == 0 {
		return trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return trace.BadParameter("missing parameter endKey")
	}
	err := b.db.WithContext(ctx).
		Where("k >= ? AND k <= ?", string(startKey), string(endKey)).
		Delete(&row{}).Error
	return trace.Wrap(err)
}

// Clock returns the clock used by this backend.
func (b *Backend) Clock() clockwork.Clock {
	return b.cfg.Clock
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(sqlDB.Close())
}
