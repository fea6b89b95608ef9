package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/errors"
)

const journalsURI = "/api/journals/"

// journalMeta is the paging block of a list response.
type journalMeta struct {
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
	TotalCount int     `json:"total_count"`
	Next       *string `json:"next"`
	Previous   *string `json:"previous"`
}

type journalObject struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	Publish     bool      `json:"publish"`
	ShowOnMain  bool      `json:"show_on_main"`
	Date        time.Time `json:"date"`
	UpdateDate  time.Time `json:"update_date"`
	ResourceURI string    `json:"resource_uri"`
}

func toJournalObject(e journal.Entry) journalObject {
	return journalObject{
		ID:          e.ID,
		Title:       e.Title,
		Content:     e.Content,
		Author:      e.Author,
		Publish:     e.Publish,
		ShowOnMain:  e.ShowOnMain,
		Date:        e.CreatedAt,
		UpdateDate:  e.UpdatedAt,
		ResourceURI: journalsURI + e.ID + "/",
	}
}

func (h *handler) journals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, err)
		return
	}

	page, err := h.app.Journals.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	meta := journalMeta{Limit: page.Limit, Offset: page.Offset, TotalCount: page.Total}
	if page.Offset+page.Limit < page.Total {
		next := pageURI(page.Limit, page.Offset+page.Limit)
		meta.Next = &next
	}
	if page.Offset > 0 {
		prevOffset := page.Offset - page.Limit
		if prevOffset < 0 {
			prevOffset = 0
		}
		prev := pageURI(page.Limit, prevOffset)
		meta.Previous = &prev
	}

	objects := make([]journalObject, 0, len(page.Entries))
	for _, e := range page.Entries {
		objects = append(objects, toJournalObject(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta, "objects": objects})
}

func (h *handler) journal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	e, err := h.app.Journals.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJournalObject(e))
}

func pageURI(limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return journalsURI + "?" + q.Encode()
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, fmt.Sprintf("invalid integer %q", raw))
	}
	return v, nil
}
