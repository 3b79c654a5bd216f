package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/gsc-tracker/internal/tracker"
)

var _ tracker.Store = (*Store)(nil)

// Store is an in-memory tracker.Store. It mirrors the Mongo store's rules,
// including cascades and uniqueness checks.
type Store struct {
	mu          sync.RWMutex
	idGen       tracker.IDGenerator
	seq         int
	users       map[string]tracker.User
	properties  map[string]tracker.DomainProperty
	clusters    map[string]tracker.Cluster
	links       map[string]tracker.Link
	performance map[string]tracker.LinkPerformance
}

// NewStore builds an empty Store. idGen may be nil, in which case ids are
// sequential.
func NewStore(idGen tracker.IDGenerator) *Store {
	return &Store{
		idGen:       idGen,
		users:       make(map[string]tracker.User),
		properties:  make(map[string]tracker.DomainProperty),
		clusters:    make(map[string]tracker.Cluster),
		links:       make(map[string]tracker.Link),
		performance: make(map[string]tracker.LinkPerformance),
	}
}

func (s *Store) newID() (string, error) {
	if s.idGen != nil {
		id, err := s.idGen.NewID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		return id, nil
	}
	s.seq++
	return fmt.Sprintf("%024x", s.seq), nil
}

// UpsertUser implements tracker.UserStore.
func (s *Store) UpsertUser(_ context.Context, email, name string, now time.Time) (tracker.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.Email == email {
			u.Name = name
			u.UpdatedAt = now
			s.users[id] = u
			return u, nil
		}
	}
	id, err := s.newID()
	if err != nil {
		return tracker.User{}, err
	}
	u := tracker.User{ID: id, Email: email, Name: name, CreatedAt: now, UpdatedAt: now}
	s.users[id] = u
	return u, nil
}

func (s *Store) findProperty(userID, siteURL string) (tracker.DomainProperty, bool) {
	for _, p := range s.properties {
		if p.UserID == userID && p.SiteURL == siteURL {
			return p, true
		}
	}
	return tracker.DomainProperty{}, false
}

func (s *Store) upsertProperty(userID, siteURL, level string, now time.Time) error {
	p, ok := s.findProperty(userID, siteURL)
	if !ok {
		id, err := s.newID()
		if err != nil {
			return err
		}
		p = tracker.DomainProperty{ID: id, UserID: userID, SiteURL: siteURL, CreatedAt: now}
	}
	p.Active = true
	if level != "" {
		p.PermissionLevel = level
	}
	p.UpdatedAt = now
	s.properties[p.ID] = p
	return nil
}

// SyncProperties implements tracker.PropertyStore.
func (s *Store) SyncProperties(
	_ context.Context,
	userID string,
	sites []tracker.Site,
	now time.Time,
) ([]tracker.DomainProperty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(sites))
	for _, site := range sites {
		seen[site.URL] = true
		level := site.PermissionLevel
		if level == "" {
			level = tracker.PermissionUnknown
		}
		if err := s.upsertProperty(userID, site.URL, level, now); err != nil {
			return nil, err
		}
	}
	var out []tracker.DomainProperty
	for id, p := range s.properties {
		if p.UserID != userID {
			continue
		}
		if !seen[p.SiteURL] {
			p.Active = false
			p.PermissionLevel = tracker.PermissionUnknown
			p.UpdatedAt = now
			s.properties[id] = p
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteURL < out[j].SiteURL })
	return out, nil
}

// SelectProperty implements tracker.PropertyStore.
func (s *Store) SelectProperty(_ context.Context, userID, siteURL string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertProperty(userID, siteURL, "", now)
}

func (s *Store) clusterNameClash(c tracker.Cluster) error {
	for _, other := range s.clusters {
		if other.ID == c.ID || other.UserID != c.UserID || other.Domain != c.Domain || other.Name != c.Name {
			continue
		}
		if other.Deleted {
			return tracker.ErrTrashed
		}
		return tracker.ErrDuplicate
	}
	return nil
}

// CreateCluster implements tracker.ClusterStore.
func (s *Store) CreateCluster(_ context.Context, c tracker.Cluster) (tracker.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = ""
	if err := s.clusterNameClash(c); err != nil {
		return tracker.Cluster{}, err
	}
	id, err := s.newID()
	if err != nil {
		return tracker.Cluster{}, err
	}
	c.ID = id
	c.Deleted = false
	c.DeletedAt = nil
	s.clusters[id] = c
	return c, nil
}

// GetCluster implements tracker.ClusterStore.
func (s *Store) GetCluster(_ context.Context, id string) (tracker.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	if !ok {
		return tracker.Cluster{}, tracker.ErrNotFound
	}
	return c, nil
}

// ListClusters implements tracker.ClusterStore.
func (s *Store) ListClusters(_ context.Context, userID, domain string, deleted bool) ([]tracker.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Cluster
	for _, c := range s.clusters {
		if c.UserID == userID && c.Domain == domain && c.Deleted == deleted {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return created(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

// created orders by creation time, then id.
func created(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID < bID
}

// UpdateCluster implements tracker.ClusterStore.
func (s *Store) UpdateCluster(_ context.Context, c tracker.Cluster, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.clusters[c.ID]
	if !ok {
		return tracker.ErrNotFound
	}
	current.Name = c.Name
	current.DeviceFilter = c.DeviceFilter
	current.CountryFilter = c.CountryFilter
	if err := s.clusterNameClash(current); err != nil {
		return tracker.ErrDuplicate
	}
	current.UpdatedAt = now
	s.clusters[c.ID] = current
	return nil
}

func stamp(now time.Time) *time.Time {
	t := now
	return &t
}

// TrashCluster implements tracker.ClusterStore.
func (s *Store) TrashCluster(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok || c.Deleted {
		return tracker.ErrNotFound
	}
	c.Deleted, c.DeletedAt, c.UpdatedAt = true, stamp(now), now
	s.clusters[id] = c
	for lid, l := range s.links {
		if l.ClusterID != id {
			continue
		}
		if !l.Deleted {
			l.Deleted, l.DeletedAt, l.UpdatedAt = true, stamp(now), now
			s.links[lid] = l
		}
		s.trashPerformance(lid, now)
	}
	return nil
}

// RestoreCluster implements tracker.ClusterStore.
func (s *Store) RestoreCluster(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[id]
	if !ok || !c.Deleted {
		return tracker.ErrNotFound
	}
	c.Deleted, c.DeletedAt, c.UpdatedAt = false, nil, now
	s.clusters[id] = c
	for lid, l := range s.links {
		if l.ClusterID != id {
			continue
		}
		if l.Deleted {
			l.Deleted, l.DeletedAt, l.UpdatedAt = false, nil, now
			s.links[lid] = l
		}
		s.restorePerformance(lid, now)
	}
	return nil
}

// PurgeCluster implements tracker.ClusterStore.
func (s *Store) PurgeCluster(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[id]; !ok {
		return tracker.ErrNotFound
	}
	for lid, l := range s.links {
		if l.ClusterID == id {
			s.purgeLink(lid)
		}
	}
	delete(s.clusters, id)
	return nil
}

// ListClustersTrashedBefore implements tracker.ClusterStore.
func (s *Store) ListClustersTrashedBefore(_ context.Context, cutoff time.Time) ([]tracker.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Cluster
	for _, c := range s.clusters {
		if c.Deleted && c.DeletedAt != nil && c.DeletedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) linkURLClash(l tracker.Link) bool {
	for _, other := range s.links {
		if other.ID != l.ID && other.ClusterID == l.ClusterID && other.URL == l.URL && !other.Deleted {
			return true
		}
	}
	return false
}

// CreateLink implements tracker.LinkStore.
func (s *Store) CreateLink(_ context.Context, l tracker.Link) (tracker.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = ""
	if s.linkURLClash(l) {
		return tracker.Link{}, tracker.ErrDuplicate
	}
	id, err := s.newID()
	if err != nil {
		return tracker.Link{}, err
	}
	l.ID = id
	if l.Status == "" {
		l.Status = tracker.LinkProcessing
	}
	l.Deleted, l.DeletedAt = false, nil
	s.links[id] = l
	return l, nil
}

// GetLink implements tracker.LinkStore.
func (s *Store) GetLink(_ context.Context, id string) (tracker.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	if !ok {
		return tracker.Link{}, tracker.ErrNotFound
	}
	return l, nil
}

// ListLinks implements tracker.LinkStore.
func (s *Store) ListLinks(ctx context.Context, clusterID string, deleted bool) ([]tracker.Link, error) {
	return s.ListLinksByClusters(ctx, []string{clusterID}, deleted)
}

// ListLinksByClusters implements tracker.LinkStore.
func (s *Store) ListLinksByClusters(_ context.Context, clusterIDs []string, deleted bool) ([]tracker.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(clusterIDs))
	for _, id := range clusterIDs {
		want[id] = true
	}
	var out []tracker.Link
	for _, l := range s.links {
		if want[l.ClusterID] && l.Deleted == deleted {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return created(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

// UpdateLinkURL implements tracker.LinkStore.
func (s *Store) UpdateLinkURL(_ context.Context, id, rawURL string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return tracker.ErrNotFound
	}
	l.URL = rawURL
	if s.linkURLClash(l) {
		return tracker.ErrDuplicate
	}
	l.UpdatedAt = now
	s.links[id] = l
	return nil
}

// SetLinkStatus implements tracker.LinkStore.
func (s *Store) SetLinkStatus(_ context.Context, id string, status tracker.LinkStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return tracker.ErrNotFound
	}
	l.Status, l.UpdatedAt = status, now
	s.links[id] = l
	return nil
}

// TrashLink implements tracker.LinkStore.
func (s *Store) TrashLink(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok || l.Deleted {
		return tracker.ErrNotFound
	}
	l.Deleted, l.DeletedAt, l.UpdatedAt = true, stamp(now), now
	s.links[id] = l
	s.trashPerformance(id, now)
	return nil
}

// RestoreLink implements tracker.LinkStore.
func (s *Store) RestoreLink(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok || !l.Deleted {
		return tracker.ErrNotFound
	}
	l.Deleted, l.DeletedAt, l.UpdatedAt = false, nil, now
	s.links[id] = l
	s.restorePerformance(id, now)
	return nil
}

// PurgeLink implements tracker.LinkStore.
func (s *Store) PurgeLink(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[id]; !ok {
		return tracker.ErrNotFound
	}
	s.purgeLink(id)
	return nil
}

// ListLinksTrashedBefore implements tracker.LinkStore.
func (s *Store) ListLinksTrashedBefore(_ context.Context, cutoff time.Time) ([]tracker.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Link
	for _, l := range s.links {
		if l.Deleted && l.DeletedAt != nil && l.DeletedAt.Before(cutoff) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) purgeLink(id string) {
	for pid, p := range s.performance {
		if p.LinkID == id {
			delete(s.performance, pid)
		}
	}
	delete(s.links, id)
}

func (s *Store) trashPerformance(linkID string, now time.Time) {
	for pid, p := range s.performance {
		if p.LinkID == linkID && !p.Deleted {
			p.Deleted, p.DeletedAt, p.UpdatedAt = true, stamp(now), now
			s.performance[pid] = p
		}
	}
}

func (s *Store) restorePerformance(linkID string, now time.Time) {
	for pid, p := range s.performance {
		if p.LinkID == linkID && p.Deleted {
			p.Deleted, p.DeletedAt, p.UpdatedAt = false, nil, now
			s.performance[pid] = p
		}
	}
}

func performanceKey(linkID, date string) string {
	return linkID + "|" + date
}

// UpsertPerformance implements tracker.PerformanceStore.
func (s *Store) UpsertPerformance(
	_ context.Context,
	linkID string,
	rows []tracker.PerformanceRow,
	now time.Time,
) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		key := performanceKey(linkID, row.Date)
		doc, ok := s.performance[key]
		if !ok {
			id, err := s.newID()
			if err != nil {
				return 0, err
			}
			doc = tracker.LinkPerformance{ID: id, LinkID: linkID, CreatedAt: now}
		}
		doc.PerformanceRow = row
		doc.UpdatedAt = now
		s.performance[key] = doc
	}
	return len(rows), nil
}

// ListPerformance implements tracker.PerformanceStore.
func (s *Store) ListPerformance(
	_ context.Context,
	linkIDs []string,
	start, end string,
) ([]tracker.LinkPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(linkIDs))
	for _, id := range linkIDs {
		want[id] = true
	}
	var out []tracker.LinkPerformance
	for _, p := range s.performance {
		if !want[p.LinkID] || p.Deleted || p.Date < start || p.Date > end {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].LinkID < out[j].LinkID
	})
	return out, nil
}

// Ping satisfies readiness checks.
func (s *Store) Ping(context.Context) error {
	return nil
}
