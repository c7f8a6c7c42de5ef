package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/illmade-knight/guildlink/pkg/aggregator"
	"github.com/illmade-knight/guildlink/pkg/query"
	"github.com/illmade-knight/guildlink/pkg/snapshotstore"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
)

// SnapshotStore is the cache store surface the HTTP layer needs.
type SnapshotStore interface {
	Get(ctx context.Context) (*types.Snapshot, error)
	Reset(ctx context.Context) error
	Current() (*types.Snapshot, bool)
	Status() snapshotstore.Status
	TTL() time.Duration
}

// Searcher answers substring queries against the current snapshot.
type Searcher interface {
	Search(q string) (types.GroupedResult, error)
}

// linkedCharactersResponse is the body of the aggregate endpoint.
type linkedCharactersResponse struct {
	SnapshotID       string                `json:"snapshot_id"`
	LinkedCharacters []types.GroupedResult `json:"linked_characters"`
	CreatedAt        time.Time             `json:"created_at"`
}

type statusResponse struct {
	State      snapshotstore.State `json:"state"`
	SnapshotID string              `json:"snapshot_id,omitempty"`
	CreatedAt  *time.Time          `json:"created_at,omitempty"`
	AgeSeconds float64             `json:"age_seconds,omitempty"`
	TTLSeconds float64             `json:"ttl_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// LinkService serves the linked character aggregate over HTTP.
type LinkService struct {
	*BaseServer
	store    SnapshotStore
	searcher Searcher
	logger   zerolog.Logger
}

// NewLinkService creates the HTTP surface and registers its routes on a new BaseServer.
func NewLinkService(httpPort string, store SnapshotStore, searcher Searcher, logger zerolog.Logger) *LinkService {
	s := &LinkService{
		BaseServer: NewBaseServer(logger, httpPort),
		store:      store,
		searcher:   searcher,
		logger:     logger.With().Str("component", "LinkService").Logger(),
	}
	s.RegisterRoutes(s.Mux())
	return s
}

// RegisterRoutes attaches the link endpoints to mux.
func (s *LinkService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /linked-characters", s.handleLinked)
	mux.HandleFunc("POST /linked-characters/reset", s.handleReset)
	mux.HandleFunc("GET /linked-characters/search", s.handleSearch)
	mux.HandleFunc("GET /linked-characters/status", s.handleStatus)
}

func (s *LinkService) handleLinked(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.Get(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, aggregator.ErrSourceGuildNotFound):
			s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "aggregation interrupted"})
		default:
			s.logger.Error().Err(err).Msg("Failed to serve linked characters.")
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}
	s.writeJSON(w, http.StatusOK, linkedCharactersResponse{
		SnapshotID:       snapshot.ID,
		LinkedCharacters: snapshot.LinkedCharacters,
		CreatedAt:        snapshot.CreatedAt,
	})
}

func (s *LinkService) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset snapshot cache.")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "reset failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *LinkService) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query parameter q is required"})
		return
	}
	group, err := s.searcher.Search(q)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, group)
	case errors.Is(err, query.ErrNoSnapshot):
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, query.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *LinkService) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.store.Status()
	resp := statusResponse{
		State:      status.State,
		TTLSeconds: s.store.TTL().Seconds(),
	}
	if snapshot := status.Snapshot; snapshot != nil {
		created := snapshot.CreatedAt
		resp.SnapshotID = snapshot.ID
		resp.CreatedAt = &created
		resp.AgeSeconds = status.Age.Seconds()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *LinkService) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response.")
	}
}
