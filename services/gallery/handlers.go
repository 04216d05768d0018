// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gallery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"

	"github.com/AleutianAI/breadboard/pkg/logging"
	"github.com/AleutianAI/breadboard/pkg/validation"
	"github.com/AleutianAI/breadboard/services/gallery/analytics"
	"github.com/AleutianAI/breadboard/services/playground/sandbox"
	"github.com/AleutianAI/breadboard/services/playground/store"
	"github.com/AleutianAI/breadboard/services/playground/transform"
)

// Handlers carries the dependencies of the HTTP endpoints.
type Handlers struct {
	store     *store.Store
	runner    *sandbox.Runner
	pipeline  *transform.Pipeline
	cache     *renderCache
	hub       *Hub
	analytics *analytics.Recorder
	log       *logging.Logger
}

// NewHandlers wires the endpoint dependencies. The runner's budgets are
// the server-side hard caps; snippet pragmas are not honored here.
func NewHandlers(st *store.Store, runner *sandbox.Runner, hub *Hub, rec *analytics.Recorder, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.Default()
	}
	return &Handlers{
		store:     st,
		runner:    runner,
		pipeline:  transform.Default(),
		cache:     newRenderCache(),
		hub:       hub,
		analytics: rec,
		log:       log.With("component", "handlers"),
	}
}

// =============================================================================
// DTOs
// =============================================================================

// SnippetSummary is the list representation; source is omitted.
type SnippetSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	CreatedAt   strfmt.DateTime `json:"created_at"`
	UpdatedAt   strfmt.DateTime `json:"updated_at"`
}

// SnippetDetail is the full representation.
type SnippetDetail struct {
	SnippetSummary
	Source string `json:"source"`
}

// SaveSnippetRequest creates or, when ID is set, updates a snippet.
type SaveSnippetRequest struct {
	ID          string   `json:"id" binding:"omitempty,uuid4"`
	Name        string   `json:"name" binding:"required,max=64"`
	Source      string   `json:"source" binding:"required,max=65536"`
	Description string   `json:"description" binding:"max=400"`
	Tags        []string `json:"tags" binding:"max=8,dive,required,max=32"`
}

// RenderSnippetRequest asks for a server-side render at a width.
type RenderSnippetRequest struct {
	Width int `json:"width" binding:"required,min=10,max=400"`
}

// RenderSnippetResponse carries the rendered text.
type RenderSnippetResponse struct {
	Output string `json:"output"`
	Cached bool   `json:"cached"`
}

func toSummary(sn *store.Snippet) SnippetSummary {
	return SnippetSummary{
		ID:          sn.ID,
		Name:        sn.Name,
		Description: sn.Description,
		Tags:        sn.Tags,
		CreatedAt:   strfmt.DateTime(sn.CreatedAt),
		UpdatedAt:   strfmt.DateTime(sn.UpdatedAt),
	}
}

func toDetail(sn *store.Snippet) SnippetDetail {
	return SnippetDetail{SnippetSummary: toSummary(sn), Source: sn.Source}
}

// =============================================================================
// Handlers
// =============================================================================

// ListSnippets handles GET /api/v1/snippets.
func (h *Handlers) ListSnippets(c *gin.Context) {
	snippets, err := h.store.List(c.Request.Context())
	if err != nil {
		h.log.Error("list snippets", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}

	out := make([]SnippetSummary, 0, len(snippets))
	for _, sn := range snippets {
		out = append(out, toSummary(sn))
	}
	h.analytics.Record(c.Request.Context(), analytics.EventList, nil)
	c.JSON(http.StatusOK, gin.H{"snippets": out, "count": len(out)})
}

// GetSnippet handles GET /api/v1/snippets/:id.
func (h *Handlers) GetSnippet(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSnippetID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sn, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snippet not found"})
			return
		}
		h.log.Error("get snippet", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get failed"})
		return
	}
	c.JSON(http.StatusOK, toDetail(sn))
}

// SaveSnippet handles POST /api/v1/snippets.
func (h *Handlers) SaveSnippet(c *gin.Context) {
	var req SaveSnippetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateSnippetName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject broken programs before they land in the store.
	if _, err := h.pipeline.Apply(req.Name, req.Source); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	sn := &store.Snippet{
		ID:          req.ID,
		Name:        req.Name,
		Source:      req.Source,
		Description: req.Description,
		Tags:        req.Tags,
	}
	if err := h.store.Put(c.Request.Context(), sn); err != nil {
		switch {
		case errors.Is(err, store.ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "name already taken"})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "snippet not found"})
		default:
			h.log.Error("save snippet", "name", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		}
		return
	}

	h.hub.Notify(Notification{Event: EventSnippetSaved, Snippet: toSummary(sn)})
	h.analytics.Record(c.Request.Context(), analytics.EventSave, map[string]string{"snippet": sn.ID})
	c.JSON(http.StatusCreated, toDetail(sn))
}

// DeleteSnippet handles DELETE /api/v1/snippets/:id.
func (h *Handlers) DeleteSnippet(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSnippetID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snippet not found"})
			return
		}
		h.log.Error("delete snippet", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	h.hub.Notify(Notification{Event: EventSnippetDeleted, ID: id})
	h.analytics.Record(c.Request.Context(), analytics.EventDelete, map[string]string{"snippet": id})
	c.Status(http.StatusNoContent)
}

// RenderSnippet handles POST /api/v1/snippets/:id/render.
//
// Renders are deduplicated per (snippet revision, width) and cached;
// sandbox budgets are the server's hard caps regardless of snippet
// pragmas.
func (h *Handlers) RenderSnippet(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateSnippetID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req RenderSnippetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sn, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snippet not found"})
			return
		}
		h.log.Error("load snippet for render", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}

	key := renderKey(sn.ID, sn.UpdatedAt.UnixNano(), req.Width)
	out, cached, err := h.cache.Get(key, func() (string, error) {
		unit, err := h.pipeline.Apply(sn.Name, sn.Source)
		if err != nil {
			return "", err
		}
		prog, err := h.runner.Eval(c.Request.Context(), unit.Name, unit.Source, nil)
		if err != nil {
			return "", err
		}
		return prog.Mount()(req.Width)
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	h.analytics.Record(c.Request.Context(), analytics.EventRender,
		map[string]string{"snippet": sn.ID})
	c.JSON(http.StatusOK, RenderSnippetResponse{Output: out, Cached: cached})
}

// Health handles GET /api/v1/health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gallery"})
}
