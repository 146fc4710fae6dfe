package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/go-pkgz/lgr"
	"gopkg.in/ini.v1"
)

// SeatPoolConfig is config/seat_pool.ini: spec §6's total_seats,
// admin_reserved_enabled, admin_reserved_seats, allocator_strategy.
type SeatPoolConfig struct {
	TotalSeats           int
	AdminReservedEnabled bool
	AdminReservedSeats   int
	AllocatorStrategy    string // "in_process" | "shared_external"
}

// LoadSeatPoolConfig reads and parses config/seat_pool.ini.
func LoadSeatPoolConfig(path string) (SeatPoolConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return SeatPoolConfig{}, fmt.Errorf("failed to parse seat pool config file: %w", err)
	}

	sec := cfg.Section("") // default section — seat_pool.ini has no sub-sections
	pool := SeatPoolConfig{
		TotalSeats:           sec.Key("total_seats").MustInt(0),
		AdminReservedEnabled: sec.Key("admin_reserved_enabled").MustBool(true),
		AdminReservedSeats:   sec.Key("admin_reserved_seats").MustInt(1),
		AllocatorStrategy:    sec.Key("allocator_strategy").MustString("in_process"),
	}
	if pool.TotalSeats <= 0 {
		return SeatPoolConfig{}, errors.New("seat pool config: total_seats must be positive")
	}
	if !pool.AdminReservedEnabled {
		pool.AdminReservedSeats = 0
	}

	return pool, nil
}

// SeatPoolWatcher hot-reloads config/seat_pool.ini on change, generalizing
// app_teacher_ref/server/auth/auth.go's startWatcher (watch the containing
// directory so editor atomic renames are caught, debounce rapid writes, stop
// on context cancellation) from the ACL/user file onto the seat pool file —
// spec's own seat-pool settings have no equivalent watcher in the teacher,
// but the mechanism transfers unchanged (SPEC_FULL.md's ambient stack note).
type SeatPoolWatcher struct {
	path     string
	onReload func(SeatPoolConfig)
}

func NewSeatPoolWatcher(path string, onReload func(SeatPoolConfig)) *SeatPoolWatcher {
	return &SeatPoolWatcher{path: path, onReload: onReload}
}

// Start launches the watcher goroutine. Returns once the watch is
// established; reload failures are logged, not returned, since a bad edit to
// the file should not crash the running process.
func (w *SeatPoolWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create seat pool file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	log.Printf("[INFO] watching seat pool config file %s for changes", w.path)

	go func() {
		defer watcher.Close()

		var debounceTimer *time.Timer
		const debounceDelay = 100 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				log.Printf("[INFO] seat pool config watcher stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if ctx.Err() != nil {
						return
					}
					pool, err := LoadSeatPoolConfig(w.path)
					if err != nil {
						log.Printf("[WARN] failed to reload seat pool config: %v", err)
						return
					}
					w.onReload(pool)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] seat pool config watcher error: %v", err)
			}
		}
	}()

	return nil
}
