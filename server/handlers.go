package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/ingest"
	"github.com/pondera-systems/pondera/retrieval"
	"github.com/pondera-systems/pondera/storage"
)

const maxUploadBytes = 32 << 20 // 32 MB

type sourceView struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Key           string     `json:"key"`
	Title         string     `json:"title,omitempty"`
	Description   string     `json:"description,omitempty"`
	ItemCount     int        `json:"item_count"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

type itemView struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title,omitempty"`
	DocType     string     `json:"doc_type,omitempty"`
	Status      string     `json:"status"`
	ChunkCount  int        `json:"chunk_count"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

type jobView struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	State     string `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

type passageView struct {
	Text        string  `json:"text"`
	Score       float32 `json:"score"`
	Attribution string  `json:"attribution"`
	ItemID      string  `json:"item_id,omitempty"`
	ItemTitle   string  `json:"item_title,omitempty"`
	Section     string  `json:"section,omitempty"`
	URL         string  `json:"url,omitempty"`
}

type candidateView struct {
	ItemID   string  `json:"item_id"`
	Title    string  `json:"title,omitempty"`
	TopScore float32 `json:"top_score"`
	Hits     int     `json:"hits"`
}

type queryView struct {
	Query      string          `json:"query"`
	Outcome    string          `json:"outcome"`
	Truncated  bool            `json:"truncated,omitempty"`
	Note       string          `json:"note,omitempty"`
	Candidates []candidateView `json:"candidates,omitempty"`
	Passages   []passageView   `json:"passages"`
}

type createSourceRequest struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type queryRequest struct {
	Query     string   `json:"query"`
	SourceIDs []string `json:"source_ids,omitempty"`
	ItemIDs   []string `json:"item_ids,omitempty"`
	DocTypes  []string `json:"doc_types,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSource registers a feed (JSON body) or uploads a document
// (multipart form with a "file" field). Re-registering a known feed or
// re-uploading known bytes returns the existing record.
func (s *Server) handleCreateSource(c echo.Context) error {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return s.handleUploadDocument(c)
	}

	var req createSourceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.Kind != "" && req.Kind != string(core.SourceKindFeed) {
		return c.JSON(http.StatusBadRequest, errorBody("kind must be \"feed\"; upload documents as multipart form data"))
	}

	source, err := s.pipeline.RegisterFeed(c.Request().Context(), req.URL)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, viewSource(source))
}

func (s *Server) handleUploadDocument(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("multipart field \"file\" is required"))
	}
	if fileHeader.Size > maxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, errorBody("file exceeds the upload limit"))
	}

	f, err := fileHeader.Open()
	if err != nil {
		return s.respondError(c, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return s.respondError(c, err)
	}

	item, err := s.pipeline.UploadDocument(c.Request().Context(), fileHeader.Filename, content, c.FormValue("doc_type"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, viewItem(item))
}

func (s *Server) handleListSources(c echo.Context) error {
	sources, err := s.store.ListSources(c.Request().Context())
	if err != nil {
		return s.respondError(c, err)
	}

	out := make([]sourceView, 0, len(sources))
	for _, source := range sources {
		out = append(out, viewSource(source))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListItems(c echo.Context) error {
	ctx := c.Request().Context()
	sourceID := c.Param("id")

	if _, err := s.store.GetSource(ctx, sourceID); err != nil {
		return s.respondError(c, err)
	}

	items, err := s.store.ListItemsBySource(ctx, sourceID)
	if err != nil {
		return s.respondError(c, err)
	}

	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, viewItem(item))
	}
	return c.JSON(http.StatusOK, out)
}

// handleProcessSource triggers work for a source: feeds are synced for
// new entries, document sources have their items rescheduled. Items
// with a job already in flight are skipped, not errors.
func (s *Server) handleProcessSource(c echo.Context) error {
	ctx := c.Request().Context()
	sourceID := c.Param("id")

	source, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return s.respondError(c, err)
	}

	if source.Kind == core.SourceKindFeed {
		result, err := s.pipeline.SyncFeed(ctx, sourceID)
		if err != nil {
			return s.respondError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"source_id": result.SourceID,
			"new_items": result.NewItems,
			"known":     result.Known,
			"scheduled": result.Scheduled,
		})
	}

	items, err := s.store.ListItemsBySource(ctx, sourceID)
	if err != nil {
		return s.respondError(c, err)
	}

	scheduled := make([]string, 0, len(items))
	skipped := 0
	for _, item := range items {
		job, err := s.pipeline.ScheduleItem(ctx, item.ID)
		switch {
		case err == nil:
			scheduled = append(scheduled, job.ID)
		case core.IsInFlight(err):
			skipped++
		default:
			return s.respondError(c, err)
		}
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"source_id": sourceID,
		"scheduled": scheduled,
		"skipped":   skipped,
	})
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.store.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, jobView{
		ID:        job.ID,
		ItemID:    job.ItemID,
		State:     string(job.State),
		Attempts:  job.Attempts,
		LastError: job.LastError,
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	qc, err := s.runQuery(c)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewQuery(qc))
}

// handleGenerate answers a query with assembled context. The answer is
// the ordered context itself plus a source listing; prompt construction
// for a downstream language model is the caller's concern.
func (s *Server) handleGenerate(c echo.Context) error {
	qc, err := s.runQuery(c)
	if err != nil {
		return s.respondError(c, err)
	}

	view := viewQuery(qc)

	if qc.Outcome == retrieval.OutcomeNeedsDisambiguation {
		return c.JSON(http.StatusOK, map[string]any{
			"answer":     "",
			"note":       "query is ambiguous; pick one of the candidates and filter by item",
			"candidates": view.Candidates,
			"outcome":    view.Outcome,
		})
	}

	var b strings.Builder
	sources := make([]string, 0, len(qc.Passages))
	for i, p := range qc.Passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
		switch p.Attribution {
		case retrieval.AttributionWeb:
			sources = append(sources, fmt.Sprintf("[web] %s (%s)", p.ItemTitle, p.URL))
		default:
			sources = append(sources, fmt.Sprintf("[knowledge-base] %s", p.ItemTitle))
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"answer":   b.String(),
		"note":     qc.Note,
		"outcome":  view.Outcome,
		"sources":  sources,
		"passages": view.Passages,
	})
}

func (s *Server) runQuery(c echo.Context) (*retrieval.QueryContext, error) {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return nil, retrieval.ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.queryDeadline)
	defer cancel()

	filter := storage.SearchFilter{
		SourceIDs: req.SourceIDs,
		ItemIDs:   req.ItemIDs,
		DocTypes:  req.DocTypes,
	}

	qc, err := s.engine.Query(ctx, req.Query, filter)
	if err != nil {
		return nil, err
	}

	if s.coordinator != nil {
		qc = s.coordinator.Augment(ctx, qc)
	}
	return qc, nil
}

func (s *Server) respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case core.IsInFlight(err):
		return c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, core.ErrInvalidSource),
		errors.Is(err, core.ErrInvalidFeedURL),
		errors.Is(err, ingest.ErrNotAFeed),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, retrieval.ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case core.IsMalformed(err):
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	case core.IsTransient(err), errors.Is(err, core.ErrProviderUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		s.logger.Error("request failed", "err", err)
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func viewSource(source *core.Source) sourceView {
	v := sourceView{
		ID:          source.ID,
		Kind:        string(source.Kind),
		Key:         source.Key,
		Title:       source.Title,
		Description: source.Description,
		ItemCount:   source.ItemCount,
	}
	if !source.LastFetchedAt.IsZero() {
		t := source.LastFetchedAt
		v.LastFetchedAt = &t
	}
	return v
}

func viewItem(item *core.ContentItem) itemView {
	v := itemView{
		ID:         item.ID,
		SourceID:   item.SourceID,
		Title:      item.Title,
		DocType:    item.DocType,
		Status:     string(item.Status),
		ChunkCount: len(item.ChunkIDs),
		Attempts:   item.Attempts,
		LastError:  item.LastError,
	}
	if !item.PublishedAt.IsZero() {
		t := item.PublishedAt
		v.PublishedAt = &t
	}
	if !item.ProcessedAt.IsZero() {
		t := item.ProcessedAt
		v.ProcessedAt = &t
	}
	return v
}

func viewQuery(qc *retrieval.QueryContext) queryView {
	view := queryView{
		Query:     qc.Query,
		Outcome:   string(qc.Outcome),
		Truncated: qc.Truncated,
		Note:      qc.Note,
		Passages:  make([]passageView, 0, len(qc.Passages)),
	}
	for _, candidate := range qc.Candidates {
		view.Candidates = append(view.Candidates, candidateView{
			ItemID:   candidate.ItemID,
			Title:    candidate.Title,
			TopScore: candidate.TopScore,
			Hits:     candidate.Hits,
		})
	}
	for _, p := range qc.Passages {
		view.Passages = append(view.Passages, passageView{
			Text:        p.Text,
			Score:       p.Score,
			Attribution: string(p.Attribution),
			ItemID:      p.ItemID,
			ItemTitle:   p.ItemTitle,
			Section:     p.Section,
			URL:         p.URL,
		})
	}
	return view
}
