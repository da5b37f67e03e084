package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-blocks/internal/workspace"
	"github.com/nerrad567/gray-logic-blocks/internal/workspace/extensions"
)

// maxQueryParamLen limits path and query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// TabSummary is the list view of a loaded tab.
type TabSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Blocks    int    `json:"blocks"`
	Comments  int    `json:"comments"`
	RootCount int    `json:"root_count"`
	Locks     int    `json:"locks"`
}

// RootView describes one scheduled root of a tab.
type RootView struct {
	ID        string                   `json:"id"`
	Opcode    string                   `json:"opcode"`
	Execution *workspace.ExecutionInfo `json:"execution,omitempty"`
}

// TabDetail is the detail view of a loaded tab.
type TabDetail struct {
	TabSummary
	Roots      []RootView `json:"roots"`
	Procedures []string   `json:"procedures"`
	LockKeys   []string   `json:"lock_keys"`
	Polling    bool       `json:"polling"`
}

// broadcastRequest is the body of POST /broadcasts/{key}.
type broadcastRequest struct {
	Value any `json:"value"`
}

func summarize(tab *workspace.Tab) TabSummary {
	return TabSummary{
		ID:        tab.ID,
		Name:      tab.Name,
		State:     tab.State().String(),
		Blocks:    tab.BlockCount(),
		Comments:  tab.CommentCount(),
		RootCount: len(tab.Roots()),
		Locks:     tab.Locks().LockCount(),
	}
}

func detail(tab *workspace.Tab) TabDetail {
	d := TabDetail{
		TabSummary: summarize(tab),
		Roots:      make([]RootView, 0),
		Procedures: tab.Procedures(),
		LockKeys:   tab.Locks().Keys(),
		Polling:    tab.Locks().PollingActive(),
	}
	for _, root := range tab.Roots() {
		view := RootView{ID: root.ID, Opcode: root.FullOpcode()}
		if info, ok := root.Execution(); ok {
			view.Execution = &info
		}
		d.Roots = append(d.Roots, view)
	}
	return d
}

// workspaceID extracts and validates the {id} path parameter.
func workspaceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid workspace ID")
		return "", false
	}
	return id, true
}

// handleListWorkspaces returns every loaded tab.
func (s *Server) handleListWorkspaces(w http.ResponseWriter, _ *http.Request) {
	tabs := s.engine.Tabs()
	out := make([]TabSummary, 0, len(tabs))
	for _, tab := range tabs {
		out = append(out, summarize(tab))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": out, "count": len(out)})
}

// handleGetWorkspace returns a loaded tab with its roots, procedures and locks.
func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	id, ok := workspaceID(w, r)
	if !ok {
		return
	}

	tab, err := s.engine.Tab(id)
	if err != nil {
		writeWorkspaceError(w, err, "failed to get workspace")
		return
	}
	writeJSON(w, http.StatusOK, detail(tab))
}

// handlePutWorkspace stores a workspace document and reloads its tab.
//
// The request body is the document itself. The optional "name" query
// parameter sets the display name; without it an existing name is kept.
func (s *Server) handlePutWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := workspaceID(w, r)
	if !ok {
		return
	}

	name := r.URL.Query().Get("name")
	if len(name) > maxQueryParamLen {
		writeBadRequest(w, "name exceeds maximum length")
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	if _, err := workspace.Parse(id, name, content); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidDocument, err.Error())
		return
	}

	doc := &workspace.Document{ID: id, Name: name, Content: content}
	existing, err := s.documents.Get(ctx, id)
	switch {
	case err == nil:
		doc.CreatedAt = existing.CreatedAt
		if doc.Name == "" {
			doc.Name = existing.Name
		}
	case errors.Is(err, workspace.ErrDocumentNotFound):
	default:
		writeWorkspaceError(w, err, "failed to read workspace")
		return
	}
	if doc.Name == "" {
		doc.Name = id
	}

	if err := s.documents.Save(ctx, doc); err != nil {
		s.logger.Error("saving workspace failed", "tab_id", id, "error", err)
		writeWorkspaceError(w, err, "failed to save workspace")
		return
	}

	s.reload(w, r, *doc)
}

// handleReloadWorkspace reloads a tab from its stored document.
func (s *Server) handleReloadWorkspace(w http.ResponseWriter, r *http.Request) {
	id, ok := workspaceID(w, r)
	if !ok {
		return
	}

	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		writeWorkspaceError(w, err, "failed to read workspace")
		return
	}

	s.reload(w, r, *doc)
}

// reload hands a document to the engine and writes the resulting tab.
func (s *Server) reload(w http.ResponseWriter, r *http.Request, doc workspace.Document) {
	tab, err := s.engine.Reload(r.Context(), doc)
	if err != nil {
		writeWorkspaceError(w, err, "failed to load workspace")
		return
	}

	s.publishTabStatus(tab.ID, tab.State().String())
	writeJSON(w, http.StatusOK, detail(tab))
}

// handleDeleteWorkspace deletes a stored document and releases its tab.
func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := workspaceID(w, r)
	if !ok {
		return
	}

	stored := true
	if err := s.documents.Delete(ctx, id); err != nil {
		if !errors.Is(err, workspace.ErrDocumentNotFound) {
			writeWorkspaceError(w, err, "failed to delete workspace")
			return
		}
		stored = false
	}

	loaded := true
	if err := s.engine.Remove(ctx, id); err != nil {
		if !errors.Is(err, workspace.ErrTabNotFound) {
			writeWorkspaceError(w, err, "failed to release workspace")
			return
		}
		loaded = false
	}

	if !stored && !loaded {
		writeWorkspaceError(w, workspace.ErrDocumentNotFound, "workspace not found")
		return
	}

	s.publishTabStatus(id, workspace.TabReleased.String())
	w.WriteHeader(http.StatusNoContent)
}

// handleBroadcast signals a named broadcast in every loaded tab.
//
// The body is optional; without a value the broadcast name is sent.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" || len(key) > maxQueryParamLen {
		writeBadRequest(w, "invalid broadcast key")
		return
	}

	req := broadcastRequest{Value: key}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		req.Value = key
	}

	woken := s.engine.SignalAll(extensions.BroadcastKey(key), req.Value)
	s.logger.Debug("broadcast signalled", "key", key, "woken", woken)
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "woken": woken})
}

// handleListVariables returns every stored workspace variable.
func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	if s.variables == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "variable store not configured")
		return
	}
	vars, err := s.variables.ListVariables(r.Context())
	if err != nil {
		writeWorkspaceError(w, err, "failed to list variables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": vars, "count": len(vars)})
}

// tabStatus is the payload of tab status events.
type tabStatus struct {
	TabID string `json:"tab_id"`
	State string `json:"state"`
	Time  string `json:"time"`
}

// publishTabStatus announces a tab state change on the WebSocket hub and,
// when MQTT is connected, on the tab's retained status topic.
func (s *Server) publishTabStatus(tabID, state string) {
	status := tabStatus{TabID: tabID, State: state, Time: time.Now().UTC().Format(time.RFC3339)}
	if s.hub != nil {
		s.hub.Broadcast(ChannelTabStatus, tabID, status)
	}
	if s.mqtt == nil || !s.mqtt.IsConnected() {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.mqtt.Publish(topics.WorkspaceTabStatus(tabID), payload, 1, true); err != nil {
		s.logger.Warn("publishing tab status failed", "tab_id", tabID, "error", err)
	}
}
