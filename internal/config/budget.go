package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/auditengine/siteauditor/internal/assets"
)

// Budget is a performance budget: the per-metric thresholds the
// Core Web Vitals analyzer checks against, plus the weights it uses to
// combine per-metric pass/fail into a single score.
type Budget struct {
	LCPMs   float64            `yaml:"lcp_ms"`
	CLS     float64            `yaml:"cls"`
	FCPMs   float64            `yaml:"fcp_ms"`
	TTFBMs  float64            `yaml:"ttfb_ms"`
	Weights BudgetWeights      `yaml:"weights"`
}

// BudgetWeights must sum to 1.0; Budget.validate logs a warning
// (not a failure) if they don't, and they are used as given.
type BudgetWeights struct {
	LCP  float64 `yaml:"lcp"`
	CLS  float64 `yaml:"cls"`
	FCP  float64 `yaml:"fcp"`
	TTFB float64 `yaml:"ttfb"`
}

func (b Budget) validate() error {
	if b.LCPMs <= 0 || b.FCPMs <= 0 || b.TTFBMs <= 0 || b.CLS <= 0 {
		return fmt.Errorf("budget thresholds must be positive")
	}
	w := b.Weights
	if sum := w.LCP + w.CLS + w.FCP + w.TTFB; sum < 0.999 || sum > 1.001 {
		log.Warn().Float64("sum", sum).Msg("budget weights do not sum to 1.0, using them as given")
	}
	return nil
}

// BudgetManager provides hot-reload-capable budget template management:
// embedded defaults, an optional external YAML override, atomic.Value for
// lock-free reads, and an fsnotify watcher for live updates.
type BudgetManager struct {
	embedded     *Budget
	current      atomic.Value // *Budget
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	reloadCount  int64
	closed       bool
}

// NewBudgetManager loads the named built-in template, applies any
// per-metric CLI/env overrides, then (if externalPath is set) overlays an
// external YAML file and optionally watches it for hot reload.
func NewBudgetManager(templateName string, overrides Budget, externalPath string, hotReload bool) (*BudgetManager, error) {
	raw, err := assets.ReadBudget(templateName)
	if err != nil {
		return nil, fmt.Errorf("unknown budget template %q: %w", templateName, err)
	}
	var base Budget
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("embedded budget template %q is malformed: %w", templateName, err)
	}
	applyOverrides(&base, overrides)
	if err := base.validate(); err != nil {
		return nil, err
	}

	m := &BudgetManager{
		embedded:     &base,
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath != "" {
		if err := m.loadExternal(); err != nil {
			log.Warn().Err(err).Str("path", externalPath).Msg("failed to load external budget file, using template defaults")
		} else {
			log.Info().Str("path", externalPath).Msg("loaded external budget override file")
		}
		if hotReload {
			if err := m.startWatcher(); err != nil {
				log.Warn().Err(err).Msg("failed to start budget file watcher, hot-reload disabled")
			}
		}
	}

	return m, nil
}

func applyOverrides(b *Budget, overrides Budget) {
	if overrides.LCPMs > 0 {
		b.LCPMs = overrides.LCPMs
	}
	if overrides.CLS > 0 {
		b.CLS = overrides.CLS
	}
	if overrides.FCPMs > 0 {
		b.FCPMs = overrides.FCPMs
	}
	if overrides.TTFBMs > 0 {
		b.TTFBMs = overrides.TTFBMs
	}
}

// Get returns the current budget. Lock-free, safe for concurrent analyzers.
func (m *BudgetManager) Get() *Budget {
	return m.current.Load().(*Budget)
}

func (m *BudgetManager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.externalPath == "" {
		return fmt.Errorf("no external budget path configured")
	}
	return m.loadExternalLocked()
}

func (m *BudgetManager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

func (m *BudgetManager) loadExternalLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		return fmt.Errorf("read budget file: %w", err)
	}
	var b Budget
	// Start from embedded so a partial override file still validates.
	b = *m.embedded
	if err := yaml.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("parse budget file: %w", err)
	}
	if err := b.validate(); err != nil {
		return err
	}
	m.current.Store(&b)
	m.reloadCount++
	log.Info().Int64("reload_count", m.reloadCount).Msg("budget hot-reloaded successfully")
	return nil
}

func (m *BudgetManager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("watch file: %w", err)
	}
	m.watcher = watcher
	m.wg.Add(1)
	go m.watchFile()
	return nil
}

func (m *BudgetManager) watchFile() {
	defer m.wg.Done()

	// The debounce timer is owned exclusively by this goroutine: editors
	// emit bursts of write events, and each one just pushes the reload
	// back another debounceDelay. Reload itself runs inside this loop, so
	// no other goroutine ever touches the timer.
	const debounceDelay = 100 * time.Millisecond
	debounce := time.NewTimer(debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(debounceDelay)
		case <-debounce.C:
			if err := m.Reload(); err != nil {
				log.Warn().Err(err).Msg("budget hot-reload failed, keeping previous budget")
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("budget file watcher error")
		case <-m.stopCh:
			debounce.Stop()
			return
		}
	}
}

func (m *BudgetManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
