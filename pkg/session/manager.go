package session

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
)

// storedSession is the wire form. The metric cache travels as an explicit
// ordered list of entries, not a map, so it survives any JSON round trip.
type storedSession struct {
	SessionID        string                      `json:"session_id"`
	CreatedAt        time.Time                   `json:"created_at"`
	ExpiresAt        time.Time                   `json:"expires_at"`
	Dataset          *models.PostcodeDataset     `json:"dataset,omitempty"`
	Clinic           *models.ClinicConfiguration `json:"clinic,omitempty"`
	Metrics          []models.MetricEntry        `json:"metrics"`
	SelectionHistory []models.SelectionEvent     `json:"selection_history"`
}

type SessionUpdate struct {
	Dataset *models.PostcodeDataset
	Clinic  *models.ClinicConfiguration
}

// Manager owns session lifecycle: creation, activity-based expiry extension,
// the soft-TTL metric cache and the capped selection-history log. Sessions are
// keyed by owner; a new upload replaces the owner's previous session outright.
type Manager struct {
	store      Store
	duration   time.Duration
	staleness  time.Duration
	historyCap int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*models.AnalysisSession
}

func NewManager(store Store, duration, staleness time.Duration, historyCap int) *Manager {
	return &Manager{
		store:      store,
		duration:   duration,
		staleness:  staleness,
		historyCap: historyCap,
		now:        time.Now,
		sessions:   make(map[string]*models.AnalysisSession),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateSession purges any existing session for the owner and starts a fresh
// one seeded with the provided dataset and configuration.
func (m *Manager) CreateSession(ctx context.Context, ownerKey string, dataset *models.PostcodeDataset, clinic *models.ClinicConfiguration) (*models.AnalysisSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, ownerKey)
	if err := m.store.Clear(ctx, ownerKey); err != nil {
		logger.Log.WithError(err).Warn("failed to purge previous session")
	}

	now := m.now().UTC()
	sess := &models.AnalysisSession{
		SessionID:   uuid.New().String(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.duration),
		Dataset:     dataset,
		Clinic:      clinic,
		MetricCache: make(map[string]models.MetricEntry),
		SelectionHistory: []models.SelectionEvent{{
			Timestamp: now,
			Action:    "add",
			Metrics:   []string{},
			Reason:    "Session created",
		}},
	}

	m.sessions[ownerKey] = sess
	return sess, m.persist(ctx, ownerKey, sess)
}

// Get returns the owner's live session, falling back to the durable store. An
// expired session is purged and reported; a corrupt one is purged silently.
func (m *Manager) Get(ctx context.Context, ownerKey string) (*models.AnalysisSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx, ownerKey)
}

func (m *Manager) getLocked(ctx context.Context, ownerKey string) (*models.AnalysisSession, error) {
	if sess, ok := m.sessions[ownerKey]; ok {
		if m.now().After(sess.ExpiresAt) {
			m.purgeLocked(ctx, ownerKey)
			return nil, ErrSessionExpired
		}
		return sess, nil
	}

	payload, err := m.store.Load(ctx, ownerKey)
	if err != nil {
		return nil, err
	}

	var stored storedSession
	if err := json.Unmarshal(payload, &stored); err != nil {
		// Corrupt state must never propagate; discard and start clean.
		logger.Log.WithError(err).Warn("discarding corrupt session state")
		m.purgeLocked(ctx, ownerKey)
		return nil, ErrSessionCorrupt
	}

	sess := restore(stored)
	if m.now().After(sess.ExpiresAt) {
		m.purgeLocked(ctx, ownerKey)
		return nil, ErrSessionExpired
	}

	m.sessions[ownerKey] = sess
	return sess, nil
}

func (m *Manager) UpdateSession(ctx context.Context, ownerKey string, update SessionUpdate) (*models.AnalysisSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	if update.Dataset != nil {
		// A new dataset supersedes everything computed from the old one.
		sess.Dataset = update.Dataset
		invalidateCache(sess)
	}
	if update.Clinic != nil {
		sess.Clinic = update.Clinic
	}
	m.touch(sess)
	return sess, m.persist(ctx, ownerKey, sess)
}

// CacheMetricResult upserts a computed metric with a fresh calculation time.
func (m *Manager) CacheMetricResult(ctx context.Context, ownerKey, metricID string, result interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, ownerKey)
	if err != nil {
		return err
	}
	sess.MetricCache[metricID] = models.MetricEntry{
		MetricID:     metricID,
		Result:       result,
		CalculatedAt: m.now().UTC(),
		IsValid:      true,
	}
	m.touch(sess)
	return m.persist(ctx, ownerKey, sess)
}

// GetCachedMetricResult returns a cached metric only while it is inside the
// staleness window; a stale or invalidated entry forces recomputation.
func (m *Manager) GetCachedMetricResult(ctx context.Context, ownerKey, metricID string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, ownerKey)
	if err != nil {
		return nil, false
	}
	entry, ok := sess.MetricCache[metricID]
	if !ok || !entry.IsValid {
		return nil, false
	}
	if m.now().Sub(entry.CalculatedAt) >= m.staleness {
		return nil, false
	}
	return entry.Result, true
}

// InvalidateMetrics marks every cached metric invalid without discarding the
// session. Used when a new dataset supersedes prior computations.
func (m *Manager) InvalidateMetrics(ctx context.Context, ownerKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, ownerKey)
	if err != nil {
		return err
	}
	invalidateCache(sess)
	m.touch(sess)
	return m.persist(ctx, ownerKey, sess)
}

func invalidateCache(sess *models.AnalysisSession) {
	for id, entry := range sess.MetricCache {
		entry.IsValid = false
		sess.MetricCache[id] = entry
	}
}

func (m *Manager) AddToSelectionHistory(ctx context.Context, ownerKey, action string, metrics []string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.getLocked(ctx, ownerKey)
	if err != nil {
		return err
	}
	sess.SelectionHistory = append(sess.SelectionHistory, models.SelectionEvent{
		Timestamp: m.now().UTC(),
		Action:    action,
		Metrics:   metrics,
		Reason:    reason,
	})
	if len(sess.SelectionHistory) > m.historyCap {
		sess.SelectionHistory = sess.SelectionHistory[len(sess.SelectionHistory)-m.historyCap:]
	}
	m.touch(sess)
	return m.persist(ctx, ownerKey, sess)
}

func (m *Manager) IsValid(sess *models.AnalysisSession) bool {
	return sess != nil && !m.now().After(sess.ExpiresAt)
}

func (m *Manager) Clear(ctx context.Context, ownerKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ownerKey)
	return m.store.Clear(ctx, ownerKey)
}

func (m *Manager) purgeLocked(ctx context.Context, ownerKey string) {
	delete(m.sessions, ownerKey)
	if err := m.store.Clear(ctx, ownerKey); err != nil {
		logger.Log.WithError(err).Warn("failed to clear stored session")
	}
}

// touch extends the session: activity resets the expiry window.
func (m *Manager) touch(sess *models.AnalysisSession) {
	sess.ExpiresAt = m.now().UTC().Add(m.duration)
}

// persist mirrors the in-memory session to the store. A write failure is
// surfaced but does not roll back memory; the session stays usable.
func (m *Manager) persist(ctx context.Context, ownerKey string, sess *models.AnalysisSession) error {
	payload, err := json.Marshal(snapshot(sess))
	if err != nil {
		return err
	}
	ttl := sess.ExpiresAt.Sub(m.now())
	if err := m.store.Save(ctx, ownerKey, payload, ttl); err != nil {
		logger.Log.WithError(err).WithField("session_id", sess.SessionID).Error("failed to persist session")
		return err
	}
	return nil
}

func snapshot(sess *models.AnalysisSession) storedSession {
	metrics := make([]models.MetricEntry, 0, len(sess.MetricCache))
	for _, entry := range sess.MetricCache {
		metrics = append(metrics, entry)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].MetricID < metrics[j].MetricID })

	return storedSession{
		SessionID:        sess.SessionID,
		CreatedAt:        sess.CreatedAt,
		ExpiresAt:        sess.ExpiresAt,
		Dataset:          sess.Dataset,
		Clinic:           sess.Clinic,
		Metrics:          metrics,
		SelectionHistory: sess.SelectionHistory,
	}
}

func restore(stored storedSession) *models.AnalysisSession {
	cache := make(map[string]models.MetricEntry, len(stored.Metrics))
	for _, entry := range stored.Metrics {
		cache[entry.MetricID] = entry
	}
	return &models.AnalysisSession{
		SessionID:        stored.SessionID,
		CreatedAt:        stored.CreatedAt,
		ExpiresAt:        stored.ExpiresAt,
		Dataset:          stored.Dataset,
		Clinic:           stored.Clinic,
		MetricCache:      cache,
		SelectionHistory: stored.SelectionHistory,
	}
}
