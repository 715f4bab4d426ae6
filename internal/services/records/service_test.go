// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package records

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anisync/anisync/internal/database"
	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/internal/services/matcher"
	"github.com/anisync/anisync/internal/services/provider"
	"github.com/anisync/anisync/internal/testdb"
)

type fakeGateway struct {
	mu       sync.Mutex
	results  []provider.SearchResult
	details  map[string]*provider.Detail
	sources  map[string]*provider.SourceSet
	delay    time.Duration
	searches atomic.Int32
	fetches  atomic.Int32
}

func (g *fakeGateway) Name() string { return "ANIWATCH" }

func (g *fakeGateway) Search(_ context.Context, _ string) ([]provider.SearchResult, error) {
	g.searches.Add(1)
	time.Sleep(g.delay)
	return g.results, nil
}

func (g *fakeGateway) FetchDetail(_ context.Context, id string) (*provider.Detail, error) {
	g.fetches.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.details[id]
	if !ok {
		return nil, fmt.Errorf("detail %s: %w", id, domain.ErrNotFound)
	}
	cp := *d
	cp.Episodes = append([]models.Episode(nil), d.Episodes...)
	return &cp, nil
}

func (g *fakeGateway) FetchSources(_ context.Context, episodeID string, _ bool) (*provider.SourceSet, error) {
	set, ok := g.sources[episodeID]
	if !ok {
		return nil, fmt.Errorf("sources %s: %w", episodeID, domain.ErrNotFound)
	}
	return set, nil
}

func (g *fakeGateway) setEpisodes(id string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.details[id].Episodes = episodes(id, n)
}

type fakeCanonical map[int]*models.CanonicalEntry

func (f fakeCanonical) GetByID(_ context.Context, id int) (*models.CanonicalEntry, error) {
	e, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("canonical %d: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

type recordingCascade struct {
	mu    sync.Mutex
	calls [][2]int
}

func (c *recordingCascade) OnUpdate(_ context.Context, old, fresh *models.ProviderRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, [2]int{len(old.Episodes), len(fresh.Episodes)})
}

type countingObserver struct {
	mu       sync.Mutex
	hits     int
	misses   int
	outcomes map[string]int
}

func (o *countingObserver) CacheLookup(_ string, hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) Resolution(_ string, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func episodes(id string, n int) []models.Episode {
	out := make([]models.Episode, n)
	for i := range out {
		out[i] = models.Episode{Number: i + 1, EpisodeID: fmt.Sprintf("%s?ep=%d", id, 1000+i)}
	}
	return out
}

type fixture struct {
	db       *database.DB
	gateway  *fakeGateway
	cascade  *recordingCascade
	observer *countingObserver
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gw := &fakeGateway{
		results: []provider.SearchResult{
			{ID: "sousou-no-frieren-18542", Title: "Sousou no Frieren", Year: 2023, Episodes: 28},
			{ID: "frieren-mini-19001", Title: "Sousou no Frieren: Mini Anime", Year: 2023, Episodes: 10},
		},
		details: map[string]*provider.Detail{
			"sousou-no-frieren-18542": {ID: "sousou-no-frieren-18542", Title: "Sousou no Frieren", Episodes: episodes("sousou-no-frieren-18542", 11)},
		},
		sources: map[string]*provider.SourceSet{
			"sousou-no-frieren-18542?ep=1002": {Sources: []provider.Source{{URL: "https://cdn.example/3.m3u8", IsM3U8: true}}},
		},
	}
	canonical := fakeCanonical{
		154587: {ID: 154587, Titles: models.TitleSet{Romaji: "Sousou no Frieren", English: "Frieren: Beyond Journey's End"}, SeasonYear: 2023, Episodes: 28},
		999:    {ID: 999, Titles: models.TitleSet{Romaji: "Completely Different Show"}, SeasonYear: 2010},
	}

	f := &fixture{
		db:       testdb.Open(t, "records"),
		gateway:  gw,
		cascade:  &recordingCascade{},
		observer: &countingObserver{},
	}
	f.svc = f.newService(t, canonical)
	return f
}

func (f *fixture) newService(t *testing.T, canonical CanonicalSource) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Gateway:   f.gateway,
		Store:     models.NewProviderRecordStore(f.db),
		Canonical: canonical,
		Engine:    matcher.New(matcher.DefaultConfig()),
		Cascade:   f.cascade,
		Observer:  f.observer,
	})
	require.NoError(t, err)
	return svc
}

func auditCount(t *testing.T, db *database.DB, canonicalID int) int {
	t.Helper()
	entries, err := models.NewAuditStore(db).ListByExternalID(context.Background(), models.AuditTypeAniwatch, canonicalID)
	require.NoError(t, err)
	return len(entries)
}

func TestGetByCanonicalID_ResolvesOnceAndCaches(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetByCanonicalID(ctx, 154587)
	require.NoError(t, err)
	assert.Equal(t, "sousou-no-frieren-18542", first.ID)
	assert.Equal(t, 154587, first.CanonicalID)
	assert.Len(t, first.Episodes, 11)

	second, err := f.svc.GetByCanonicalID(ctx, 154587)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	assert.EqualValues(t, 1, f.gateway.searches.Load())
	assert.Equal(t, 1, auditCount(t, f.db, 154587))
	assert.Equal(t, 1, f.observer.hits)
	assert.Equal(t, 1, f.observer.outcomes[OutcomeMatched])
}

func TestGetByCanonicalID_ConcurrentCallersShareOneResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.delay = 50 * time.Millisecond

	const callers = 16
	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.svc.GetByCanonicalID(context.Background(), 154587)
			errs[i] = err
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "sousou-no-frieren-18542", ids[i])
	}
	assert.EqualValues(t, 1, f.gateway.searches.Load())
	assert.Equal(t, 1, auditCount(t, f.db, 154587))
}

func TestGetByCanonicalID_CancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.delay = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.GetByCanonicalID(ctx, 154587)
		first <- err
	}()
	require.Eventually(t, func() bool { return f.gateway.searches.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := f.svc.GetByCanonicalID(context.Background(), 154587)
		second <- err
	}()
	cancel()

	assert.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)
	assert.EqualValues(t, 1, f.gateway.searches.Load())
	assert.Equal(t, 1, auditCount(t, f.db, 154587))
}

func TestGetByCanonicalID_IndependentServicesRaceSafely(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.delay = 20 * time.Millisecond
	other := f.newService(t, f.svc.canonical)

	var wg sync.WaitGroup
	results := make([]*models.ProviderRecord, 2)
	errs := make([]error, 2)
	for i, svc := range []*Service{f.svc, other} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			results[i], errs[i] = svc.GetByCanonicalID(context.Background(), 154587)
		}(i, svc)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)
	assert.Equal(t, 1, auditCount(t, f.db, 154587))

	resolved, unresolved, err := models.NewProviderRecordStore(f.db).Count(context.Background(), "ANIWATCH")
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Zero(t, unresolved)
}

func TestGetByCanonicalID_NoMatchPersistsNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetByCanonicalID(ctx, 999)
	require.ErrorIs(t, err, domain.ErrResolutionFailed)

	resolved, unresolved, err := models.NewProviderRecordStore(f.db).Count(ctx, "ANIWATCH")
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Zero(t, unresolved)
	assert.Zero(t, auditCount(t, f.db, 999))
	assert.EqualValues(t, 0, f.gateway.fetches.Load())
	assert.Equal(t, 1, f.observer.outcomes[OutcomeNoMatch])
}

func TestGetByCanonicalID_UnknownCanonical(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.GetByCanonicalID(context.Background(), 5)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.GetByCanonicalID(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetByProviderID_ThenResolveBackfillsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	unresolved, err := f.svc.GetByProviderID(ctx, "sousou-no-frieren-18542")
	require.NoError(t, err)
	assert.Zero(t, unresolved.CanonicalID)
	assert.Zero(t, auditCount(t, f.db, 154587))

	resolved, err := f.svc.GetByCanonicalID(ctx, 154587)
	require.NoError(t, err)
	assert.Equal(t, unresolved.ID, resolved.ID)
	assert.Equal(t, 154587, resolved.CanonicalID)
	assert.Equal(t, 1, auditCount(t, f.db, 154587))

	again, err := f.svc.GetByProviderID(ctx, "sousou-no-frieren-18542")
	require.NoError(t, err)
	assert.Equal(t, 154587, again.CanonicalID)
	assert.EqualValues(t, 2, f.gateway.fetches.Load())
}

func TestGetByProviderID_Unknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.GetByProviderID(context.Background(), "missing-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPersist_NeverRemapsCanonicalID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Persist(ctx, &models.ProviderRecord{ID: "show-1", CanonicalID: 10, Title: "Show", Episodes: episodes("show-1", 2)})
	require.NoError(t, err)

	_, err = f.svc.Persist(ctx, &models.ProviderRecord{ID: "show-1", CanonicalID: 11, Title: "Show"})
	require.ErrorIs(t, err, domain.ErrResolutionFailed)

	same, err := f.svc.Persist(ctx, &models.ProviderRecord{ID: "show-1", CanonicalID: 10, Title: "Other"})
	require.NoError(t, err)
	assert.Equal(t, "Show", same.Title)
	assert.Equal(t, 1, auditCount(t, f.db, 10))
	assert.Zero(t, auditCount(t, f.db, 11))
}

func TestUpdate_CascadesAndKeepsCanonicalID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetByCanonicalID(ctx, 154587)
	require.NoError(t, err)

	f.gateway.setEpisodes("sousou-no-frieren-18542", 12)

	updated, err := f.svc.Update(ctx, "sousou-no-frieren-18542")
	require.NoError(t, err)
	assert.Len(t, updated.Episodes, 12)
	assert.Equal(t, 154587, updated.CanonicalID)
	assert.Equal(t, [][2]int{{11, 12}}, f.cascade.calls)
	assert.Equal(t, 1, auditCount(t, f.db, 154587))
}

func TestUpdate_UnknownRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), "sousou-no-frieren-18542")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.cascade.calls)
	assert.EqualValues(t, 0, f.gateway.fetches.Load())
}

func TestEpisodeSources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	set, err := f.svc.EpisodeSources(ctx, 154587, 3, false)
	require.NoError(t, err)
	require.Len(t, set.Sources, 1)
	assert.True(t, set.Sources[0].IsM3U8)

	_, err = f.svc.EpisodeSources(ctx, 154587, 40, false)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Sources(ctx, "  ", true)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	set := NewSet()
	set.Add(f.svc, "zoro", "hianime")

	svc, err := set.For("Zoro")
	require.NoError(t, err)
	assert.Same(t, f.svc, svc)

	_, err = set.For("gogoanime")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"ANIWATCH"}, set.Providers())

	require.NoError(t, set.ResolveAll(context.Background(), 154587))
	err = set.ResolveAll(context.Background(), 999)
	require.ErrorIs(t, err, domain.ErrResolutionFailed)
}
