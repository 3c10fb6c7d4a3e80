// Package repotest provides in-memory repositories for service tests. They
// honour the same constraints as the Postgres schema.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
	"github.com/ad-tracker/video-aggregator-go/internal/db/repository"
)

var (
	_ repository.ChannelRepository   = (*Channels)(nil)
	_ repository.VideoRepository     = (*Videos)(nil)
	_ repository.ScrapeJobRepository = (*Jobs)(nil)
	_ repository.SettingsRepository  = (*Settings)(nil)
	_ repository.ErrorLogRepository  = (*ErrorLogs)(nil)
)

// Channels is an in-memory ChannelRepository.
type Channels struct {
	mu     sync.Mutex
	rows   map[int64]*models.Channel
	nextID int64
}

func NewChannels() *Channels {
	return &Channels{rows: map[int64]*models.Channel{}, nextID: 1}
}

func (c *Channels) Create(_ context.Context, ch *models.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch.ID = c.nextID
	c.nextID++
	cp := *ch
	c.rows[ch.ID] = &cp
	return nil
}

func (c *Channels) GetByID(_ context.Context, id int64) (*models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (c *Channels) List(_ context.Context, limit, offset int) ([]*models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Channel, 0, len(c.rows))
	for _, ch := range c.rows {
		cp := *ch
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, limit, offset), nil
}

func (c *Channels) ListDue(_ context.Context, cutoff time.Time, limit int) ([]*models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.Channel
	for _, ch := range c.rows {
		if ch.LastScrapedAt == nil || ch.LastScrapedAt.Before(cutoff) {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastScrapedAt, out[j].LastScrapedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return out[i].ID < out[j].ID
		default:
			return a.Before(*b)
		}
	})
	return page(out, limit, 0), nil
}

func (c *Channels) UpdateIdentity(_ context.Context, id int64, name, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	if name != "" {
		ch.Name = name
	}
	if externalID != "" {
		ch.ExternalID = externalID
	}
	return nil
}

func (c *Channels) MarkScraped(_ context.Context, id int64, added int, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	ch.VideoCount += added
	if ch.LastScrapedAt == nil || at.After(*ch.LastScrapedAt) {
		t := at
		ch.LastScrapedAt = &t
	}
	return nil
}

// Videos is an in-memory VideoRepository enforcing slug and
// (platform, external id) uniqueness.
type Videos struct {
	mu     sync.Mutex
	rows   map[int64]*models.Video
	nextID int64

	// BeforeCreate, when set, runs before each insert under no lock.
	BeforeCreate func(v *models.Video)
}

func NewVideos() *Videos {
	return &Videos{rows: map[int64]*models.Video{}, nextID: 1}
}

func (v *Videos) Create(_ context.Context, video *models.Video) error {
	if v.BeforeCreate != nil {
		v.BeforeCreate(video)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range v.rows {
		if row.Slug == video.Slug {
			return &db.ConstraintError{Op: "create video", Constraint: db.ConstraintVideoSlug, Err: db.ErrDuplicateKey}
		}
		if row.Platform == video.Platform && row.ExternalVideoID == video.ExternalVideoID {
			return &db.ConstraintError{Op: "create video", Constraint: db.ConstraintVideoExternalID, Err: db.ErrDuplicateKey}
		}
	}

	now := time.Now()
	video.ID = v.nextID
	v.nextID++
	video.CreatedAt, video.UpdatedAt = now, now
	if video.Categories == nil {
		video.Categories = []string{}
	}
	if video.Tags == nil {
		video.Tags = []string{}
	}
	cp := *video
	v.rows[video.ID] = &cp
	return nil
}

// Insert stores a video directly, bypassing constraint checks.
func (v *Videos) Insert(video *models.Video) {
	v.mu.Lock()
	defer v.mu.Unlock()
	video.ID = v.nextID
	v.nextID++
	cp := *video
	v.rows[video.ID] = &cp
}

func (v *Videos) ExistsByExternalID(_ context.Context, platform models.Platform, externalID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range v.rows {
		if row.Platform == platform && row.ExternalVideoID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (v *Videos) KnownExternalIDs(_ context.Context, channelID int64) (map[string]struct{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := map[string]struct{}{}
	for _, row := range v.rows {
		if row.ChannelID == channelID {
			out[row.ExternalVideoID] = struct{}{}
		}
	}
	return out, nil
}

func (v *Videos) SlugExists(_ context.Context, slug string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range v.rows {
		if row.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (v *Videos) GetByID(_ context.Context, id int64) (*models.Video, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	row, ok := v.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (v *Videos) GetBySlug(_ context.Context, slug string) (*models.Video, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, row := range v.rows {
		if row.Slug == slug {
			cp := *row
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (v *Videos) GetByIDs(_ context.Context, ids []int64) ([]*models.Video, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*models.Video
	for _, id := range ids {
		if row, ok := v.rows[id]; ok {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (v *Videos) List(_ context.Context, f models.VideoFilters) ([]*models.Video, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*models.Video
	for _, row := range v.rows {
		if f.ChannelID != 0 && row.ChannelID != f.ChannelID {
			continue
		}
		if f.ContentType != "" && row.ContentType != f.ContentType {
			continue
		}
		if f.Category != "" && !contains(row.Categories, f.Category) {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, f.Offset), nil
}

func (v *Videos) ListUnclassifiedIDs(_ context.Context, limit int) ([]int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []int64
	for id, row := range v.rows {
		if row.ClassifiedAt == nil {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *Videos) UpdateClassification(_ context.Context, id int64, categories, tags []string, at time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	row, ok := v.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	row.Categories, row.Tags = categories, tags
	t := at
	row.ClassifiedAt = &t
	return nil
}

// All returns every stored video ordered by ID.
func (v *Videos) All() []*models.Video {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*models.Video, 0, len(v.rows))
	for _, row := range v.rows {
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Jobs is an in-memory ScrapeJobRepository with the single-running rule.
type Jobs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.ScrapeJob
}

func NewJobs() *Jobs {
	return &Jobs{rows: map[uuid.UUID]*models.ScrapeJob{}}
}

func (j *Jobs) Create(_ context.Context, job *models.ScrapeJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	cp := *job
	cp.LogEntries = append([]models.JobLogEntry{}, job.LogEntries...)
	j.rows[job.ID] = &cp
	return nil
}

func (j *Jobs) get(id uuid.UUID) (*models.ScrapeJob, error) {
	job, ok := j.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return job, nil
}

func (j *Jobs) Start(_ context.Context, id uuid.UUID, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return err
	}
	if job.Type != models.JobTypeClassification {
		for _, other := range j.rows {
			if other.ID != id && other.Status == models.JobStatusRunning && other.Type != models.JobTypeClassification {
				return &db.ConstraintError{Op: "start scrape job", Constraint: db.ConstraintSingleRunning, Err: db.ErrDuplicateKey}
			}
		}
	}
	if job.Status != models.JobStatusPending {
		return db.ErrNotFound
	}
	job.Status = models.JobStatusRunning
	t := at
	job.StartedAt = &t
	return nil
}

func (j *Jobs) UpdateProgress(_ context.Context, id uuid.UUID, processed, total, failed, percent int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return err
	}
	job.ProcessedItems = max(job.ProcessedItems, processed)
	job.TotalItems = max(job.TotalItems, total)
	job.FailedItems = max(job.FailedItems, failed)
	job.ProgressPercent = max(job.ProgressPercent, percent)
	return nil
}

func (j *Jobs) SetCurrentChannel(_ context.Context, id uuid.UUID, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return err
	}
	job.CurrentChannelName = name
	return nil
}

func (j *Jobs) AddVideos(_ context.Context, id uuid.UUID, n int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return err
	}
	job.VideosAdded += n
	return nil
}

func (j *Jobs) AppendLog(_ context.Context, id uuid.UUID, entry models.JobLogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return err
	}
	job.LogEntries = append(job.LogEntries, entry)
	return nil
}

func (j *Jobs) Finish(_ context.Context, id uuid.UUID, status models.JobStatus, summary string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	job.ErrorSummary = summary
	t := at
	job.CompletedAt = &t
	if status == models.JobStatusCompleted {
		job.ProgressPercent = 100
	}
	return nil
}

func (j *Jobs) GetByID(_ context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, err := j.get(id)
	if err != nil {
		return nil, err
	}
	cp := *job
	cp.LogEntries = append([]models.JobLogEntry{}, job.LogEntries...)
	return &cp, nil
}

func (j *Jobs) GetActive(_ context.Context) (*models.ScrapeJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, job := range j.rows {
		if job.Status == models.JobStatusRunning && job.Type != models.JobTypeClassification {
			cp := *job
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (j *Jobs) List(_ context.Context, limit, offset int) ([]*models.ScrapeJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.ScrapeJob, 0, len(j.rows))
	for _, job := range j.rows {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return page(out, limit, offset), nil
}

func (j *Jobs) FailStale(_ context.Context, cutoff time.Time, summary string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int64
	for _, job := range j.rows {
		if job.Status == models.JobStatusRunning && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			job.Status = models.JobStatusFailed
			job.ErrorSummary = summary
			n++
		}
	}
	return n, nil
}

// All returns every job, oldest first.
func (j *Jobs) All() []*models.ScrapeJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.ScrapeJob, 0, len(j.rows))
	for _, job := range j.rows {
		cp := *job
		cp.LogEntries = append([]models.JobLogEntry{}, job.LogEntries...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

// Settings is an in-memory SettingsRepository seeded with schema defaults.
type Settings struct {
	mu sync.Mutex
	s  models.SchedulerSettings
}

func NewSettings() *Settings {
	return &Settings{s: models.SchedulerSettings{
		IntervalHours:   6,
		Timezone:        "UTC",
		BatchSize:       50,
		CacheTTLSeconds: 300,
	}}
}

func (s *Settings) Get(_ context.Context) (*models.SchedulerSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.s
	return &cp, nil
}

func (s *Settings) Save(_ context.Context, in *models.SchedulerSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.IntervalHours = in.IntervalHours
	s.s.Timezone = in.Timezone
	s.s.BatchSize = in.BatchSize
	s.s.CacheTTLSeconds = in.CacheTTLSeconds
	s.s.UpdatedAt = time.Now()
	return nil
}

func (s *Settings) SetEnabled(_ context.Context, enabled bool, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.Enabled = enabled
	s.s.NextRunAt = next
	return nil
}

func (s *Settings) RecordRun(_ context.Context, last time.Time, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := last
	s.s.LastRunAt = &t
	s.s.NextRunAt = next
	return nil
}

// ErrorLogs is an in-memory ErrorLogRepository.
type ErrorLogs struct {
	mu      sync.Mutex
	entries []*models.ErrorLog
}

func NewErrorLogs() *ErrorLogs {
	return &ErrorLogs{}
}

func (e *ErrorLogs) Create(_ context.Context, entry *models.ErrorLog) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry.ID = int64(len(e.entries) + 1)
	entry.CreatedAt = time.Now()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *ErrorLogs) ListRecent(_ context.Context, limit int) ([]*models.ErrorLog, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*models.ErrorLog, 0, len(e.entries))
	for i := len(e.entries) - 1; i >= 0; i-- {
		out = append(out, e.entries[i])
	}
	return page(out, limit, 0), nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
