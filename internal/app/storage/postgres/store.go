package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/storage"
	"github.com/R3E-Network/geoharvest/internal/errors"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ServiceStore = (*Store)(nil)
var _ storage.LayerStore = (*Store)(nil)
var _ storage.LinkStore = (*Store)(nil)
var _ storage.JournalStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- ServiceStore -----------------------------------------------------------

type serviceRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Type           string         `db:"type"`
	Method         string         `db:"method"`
	BaseURL        string         `db:"base_url"`
	ProxyBase      string         `db:"proxy_base"`
	PKIURL         string         `db:"pki_url"`
	PKIProxyURL    string         `db:"pki_proxy_url"`
	Version        string         `db:"version"`
	Title          string         `db:"title"`
	Abstract       string         `db:"abstract"`
	Keywords       pq.StringArray `db:"keywords"`
	OnlineResource string         `db:"online_resource"`
	Owner          string         `db:"owner"`
	ParentID       string         `db:"parent_id"`
	MetadataOnly   bool           `db:"metadata_only"`
	Headers        headerMap      `db:"headers"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

const serviceColumns = `id, name, type, method, base_url, proxy_base, pki_url, pki_proxy_url, version, title, abstract,
	keywords, online_resource, owner, parent_id, metadata_only, headers, created_at, updated_at`

func (s *Store) CreateService(ctx context.Context, svc remote.Service) (remote.Service, error) {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO remote_services (`+serviceColumns+`)
		VALUES (:id, :name, :type, :method, :base_url, :proxy_base, :pki_url, :pki_proxy_url, :version, :title, :abstract,
			:keywords, :online_resource, :owner, :parent_id, :metadata_only, :headers, :created_at, :updated_at)
	`, toServiceRow(svc))
	if err != nil {
		return remote.Service{}, translate(err, "service", svc.BaseURL)
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, svc remote.Service) (remote.Service, error) {
	existing, err := s.GetService(ctx, svc.ID)
	if err != nil {
		return remote.Service{}, err
	}
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE remote_services
		SET name = :name, type = :type, method = :method, base_url = :base_url, proxy_base = :proxy_base,
			pki_url = :pki_url, pki_proxy_url = :pki_proxy_url, version = :version, title = :title,
			abstract = :abstract, keywords = :keywords, online_resource = :online_resource, owner = :owner,
			parent_id = :parent_id, metadata_only = :metadata_only, headers = :headers, updated_at = :updated_at
		WHERE id = :id
	`, toServiceRow(svc))
	if err != nil {
		return remote.Service{}, translate(err, "service", svc.BaseURL)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return remote.Service{}, errors.NewNotFoundError("service", svc.ID)
	}
	return svc, nil
}

func (s *Store) GetService(ctx context.Context, id string) (remote.Service, error) {
	var row serviceRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+serviceColumns+` FROM remote_services WHERE id = $1`, id); err != nil {
		return remote.Service{}, translate(err, "service", id)
	}
	return row.toDomain(), nil
}

func (s *Store) GetServiceByURL(ctx context.Context, baseURL string) (remote.Service, error) {
	var row serviceRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+serviceColumns+` FROM remote_services WHERE base_url = $1`, baseURL); err != nil {
		return remote.Service{}, translate(err, "service", baseURL)
	}
	return row.toDomain(), nil
}

func (s *Store) ListServices(ctx context.Context) ([]remote.Service, error) {
	var rows []serviceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+serviceColumns+` FROM remote_services ORDER BY created_at`); err != nil {
		return nil, err
	}
	result := make([]remote.Service, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func toServiceRow(svc remote.Service) serviceRow {
	keywords := svc.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return serviceRow{
		ID:             svc.ID,
		Name:           svc.Name,
		Type:           string(svc.Type),
		Method:         string(svc.Method),
		BaseURL:        svc.BaseURL,
		ProxyBase:      svc.ProxyBase,
		PKIURL:         svc.PKIURL,
		PKIProxyURL:    svc.PKIProxyURL,
		Version:        svc.Version,
		Title:          svc.Title,
		Abstract:       svc.Abstract,
		Keywords:       pq.StringArray(keywords),
		OnlineResource: svc.OnlineResource,
		Owner:          svc.Owner,
		ParentID:       svc.ParentID,
		MetadataOnly:   svc.MetadataOnly,
		Headers:        headerMap(svc.Headers),
		CreatedAt:      svc.CreatedAt,
		UpdatedAt:      svc.UpdatedAt,
	}
}

func (r serviceRow) toDomain() remote.Service {
	return remote.Service{
		ID:             r.ID,
		Name:           r.Name,
		Type:           remote.Type(r.Type),
		Method:         remote.IndexingMethod(r.Method),
		BaseURL:        r.BaseURL,
		ProxyBase:      r.ProxyBase,
		PKIURL:         r.PKIURL,
		PKIProxyURL:    r.PKIProxyURL,
		Version:        r.Version,
		Title:          r.Title,
		Abstract:       r.Abstract,
		Keywords:       []string(r.Keywords),
		OnlineResource: r.OnlineResource,
		Owner:          r.Owner,
		ParentID:       r.ParentID,
		MetadataOnly:   r.MetadataOnly,
		Headers:        map[string]string(r.Headers),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// --- LayerStore -------------------------------------------------------------

type layerRow struct {
	ID           string         `db:"id"`
	ServiceID    string         `db:"service_id"`
	Name         string         `db:"name"`
	Store        string         `db:"store"`
	StoreType    string         `db:"store_type"`
	Workspace    string         `db:"workspace"`
	Typename     string         `db:"typename"`
	Alternate    string         `db:"alternate"`
	Title        string         `db:"title"`
	Abstract     string         `db:"abstract"`
	BBoxX0       string         `db:"bbox_x0"`
	BBoxX1       string         `db:"bbox_x1"`
	BBoxY0       string         `db:"bbox_y0"`
	BBoxY1       string         `db:"bbox_y1"`
	SRID         string         `db:"srid"`
	Keywords     pq.StringArray `db:"keywords"`
	OWSURL       string         `db:"ows_url"`
	ThumbnailURL string         `db:"thumbnail_url"`
	IsApproved   bool           `db:"is_approved"`
	IsPublished  bool           `db:"is_published"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const layerColumns = `id, service_id, name, store, store_type, workspace, typename, alternate, title, abstract,
	bbox_x0, bbox_x1, bbox_y0, bbox_y1, srid, keywords, ows_url, thumbnail_url, is_approved, is_published,
	created_at, updated_at`

func (s *Store) CreateLayer(ctx context.Context, l layer.Layer) (layer.Layer, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO layers (`+layerColumns+`)
		VALUES (:id, :service_id, :name, :store, :store_type, :workspace, :typename, :alternate, :title, :abstract,
			:bbox_x0, :bbox_x1, :bbox_y0, :bbox_y1, :srid, :keywords, :ows_url, :thumbnail_url, :is_approved,
			:is_published, :created_at, :updated_at)
	`, toLayerRow(l))
	if err != nil {
		return layer.Layer{}, translate(err, "layer", l.Workspace+":"+l.Name)
	}
	return l, nil
}

func (s *Store) UpdateLayer(ctx context.Context, l layer.Layer) (layer.Layer, error) {
	existing, err := s.GetLayer(ctx, l.ID)
	if err != nil {
		return layer.Layer{}, err
	}
	l.ServiceID = existing.ServiceID
	l.CreatedAt = existing.CreatedAt
	l.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE layers
		SET title = :title, abstract = :abstract, bbox_x0 = :bbox_x0, bbox_x1 = :bbox_x1, bbox_y0 = :bbox_y0,
			bbox_y1 = :bbox_y1, srid = :srid, keywords = :keywords, ows_url = :ows_url,
			thumbnail_url = :thumbnail_url, is_approved = :is_approved, is_published = :is_published,
			updated_at = :updated_at
		WHERE id = :id
	`, toLayerRow(l))
	if err != nil {
		return layer.Layer{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return layer.Layer{}, errors.NewNotFoundError("layer", l.ID)
	}
	return l, nil
}

func (s *Store) GetLayer(ctx context.Context, id string) (layer.Layer, error) {
	var row layerRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+layerColumns+` FROM layers WHERE id = $1`, id); err != nil {
		return layer.Layer{}, translate(err, "layer", id)
	}
	return row.toDomain(), nil
}

func (s *Store) FindLayer(ctx context.Context, key layer.Key) (layer.Layer, error) {
	var row layerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+layerColumns+` FROM layers
		WHERE name = $1 AND store = $2 AND workspace = $3
	`, key.Name, key.Store, key.Workspace)
	if err != nil {
		return layer.Layer{}, translate(err, "layer", key.Name)
	}
	return row.toDomain(), nil
}

func (s *Store) ListLayers(ctx context.Context, serviceID string) ([]layer.Layer, error) {
	var rows []layerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+layerColumns+` FROM layers
		WHERE $1 = '' OR service_id = $1
		ORDER BY created_at
	`, serviceID)
	if err != nil {
		return nil, err
	}
	result := make([]layer.Layer, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func toLayerRow(l layer.Layer) layerRow {
	keywords := l.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return layerRow{
		ID:           l.ID,
		ServiceID:    l.ServiceID,
		Name:         l.Name,
		Store:        l.Store,
		StoreType:    l.StoreType,
		Workspace:    l.Workspace,
		Typename:     l.Typename,
		Alternate:    l.Alternate,
		Title:        l.Title,
		Abstract:     l.Abstract,
		BBoxX0:       l.BBoxX0,
		BBoxX1:       l.BBoxX1,
		BBoxY0:       l.BBoxY0,
		BBoxY1:       l.BBoxY1,
		SRID:         l.SRID,
		Keywords:     pq.StringArray(keywords),
		OWSURL:       l.OWSURL,
		ThumbnailURL: l.ThumbnailURL,
		IsApproved:   l.IsApproved,
		IsPublished:  l.IsPublished,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

func (r layerRow) toDomain() layer.Layer {
	return layer.Layer{
		ID:           r.ID,
		ServiceID:    r.ServiceID,
		Name:         r.Name,
		Store:        r.Store,
		StoreType:    r.StoreType,
		Workspace:    r.Workspace,
		Typename:     r.Typename,
		Alternate:    r.Alternate,
		Title:        r.Title,
		Abstract:     r.Abstract,
		BBoxX0:       r.BBoxX0,
		BBoxX1:       r.BBoxX1,
		BBoxY0:       r.BBoxY0,
		BBoxY1:       r.BBoxY1,
		SRID:         r.SRID,
		Keywords:     []string(r.Keywords),
		OWSURL:       r.OWSURL,
		ThumbnailURL: r.ThumbnailURL,
		IsApproved:   r.IsApproved,
		IsPublished:  r.IsPublished,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// --- LinkStore --------------------------------------------------------------

type linkRow struct {
	ID         string `db:"id"`
	ResourceID string `db:"resource_id"`
	Name       string `db:"name"`
	URL        string `db:"url"`
	Extension  string `db:"extension"`
	Mime       string `db:"mime"`
	LinkType   string `db:"link_type"`
}

const linkColumns = `id, resource_id, name, url, extension, mime, link_type`

func (s *Store) GetOrCreateLink(ctx context.Context, lnk link.Link) (link.Link, bool, error) {
	lnk.ID = uuid.NewString()
	result, err := s.db.NamedExecContext(ctx, `
		INSERT INTO layer_links (`+linkColumns+`)
		VALUES (:id, :resource_id, :name, :url, :extension, :mime, :link_type)
		ON CONFLICT (resource_id, url, name) DO NOTHING
	`, linkRow(lnk))
	if err != nil {
		return link.Link{}, false, err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return lnk, true, nil
	}

	var row linkRow
	err = s.db.GetContext(ctx, &row, `
		SELECT `+linkColumns+` FROM layer_links
		WHERE resource_id = $1 AND url = $2 AND name = $3
	`, lnk.ResourceID, lnk.URL, lnk.Name)
	if err != nil {
		return link.Link{}, false, translate(err, "link", lnk.Name)
	}
	return link.Link(row), false, nil
}

func (s *Store) ReplaceLink(ctx context.Context, lnk link.Link) (link.Link, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return link.Link{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM layer_links WHERE resource_id = $1 AND name = $2`, lnk.ResourceID, lnk.Name); err != nil {
		return link.Link{}, err
	}

	lnk.ID = uuid.NewString()
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO layer_links (`+linkColumns+`)
		VALUES (:id, :resource_id, :name, :url, :extension, :mime, :link_type)
	`, linkRow(lnk)); err != nil {
		return link.Link{}, err
	}
	if err := tx.Commit(); err != nil {
		return link.Link{}, err
	}
	return lnk, nil
}

func (s *Store) ListLinks(ctx context.Context, resourceID string) ([]link.Link, error) {
	var rows []linkRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+linkColumns+` FROM layer_links WHERE resource_id = $1 ORDER BY name`, resourceID); err != nil {
		return nil, err
	}
	result := make([]link.Link, 0, len(rows))
	for _, row := range rows {
		result = append(result, link.Link(row))
	}
	return result, nil
}

// --- JournalStore -----------------------------------------------------------

const journalColumns = `id, title, content, author, publish, show_on_main, created_at, updated_at`

func (s *Store) CreateJournalEntry(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO journal_entries (`+journalColumns+`)
		VALUES (:id, :title, :content, :author, :publish, :show_on_main, :created_at, :updated_at)
	`, e)
	if err != nil {
		return journal.Entry{}, translate(err, "journal entry", e.ID)
	}
	return e, nil
}

func (s *Store) ListJournalEntries(ctx context.Context, limit, offset int) ([]journal.Entry, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM journal_entries`); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + journalColumns + ` FROM journal_entries ORDER BY created_at, id OFFSET $1`
	args := []interface{}{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	entries := []journal.Entry{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) GetJournalEntry(ctx context.Context, id string) (journal.Entry, error) {
	var e journal.Entry
	if err := s.db.GetContext(ctx, &e, `SELECT `+journalColumns+` FROM journal_entries WHERE id = $1`, id); err != nil {
		return journal.Entry{}, translate(err, "journal entry", id)
	}
	return e, nil
}

// headerMap stores request headers as JSONB.
type headerMap map[string]string

func (h headerMap) Value() (driver.Value, error) {
	if h == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(h))
}

func (h *headerMap) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported headers column type %T", src)
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*h = out
	return nil
}

func translate(err error, kind, key string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError(kind, key)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.NewConflictError(kind, key)
	}
	return err
}
