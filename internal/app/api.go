package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/voxscribe/internal/dictation"
	"github.com/MrWong99/voxscribe/internal/helper"
	"github.com/MrWong99/voxscribe/internal/history"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

// maxChunkBytes caps a single chunk upload. 10 s of 16-bit mono PCM at the
// pipeline sample rate is 320 KB; anything past 1 MB is a client bug.
const maxChunkBytes = 1 << 20

// api serves the local dictation endpoints:
//
//	POST /v1/sessions/{sessionID}/chunks    — feed PCM16 audio, get partial text
//	POST /v1/sessions/{sessionID}/finalize  — flush, post-process, insert text
//	POST /v1/sessions/{sessionID}/cancel    — discard the session
//	GET  /v1/transcriptions/last            — most recent finalized text
//	GET  /v1/transcriptions/recent          — transcription history
//	GET  /v1/permissions/{name}             — cached OS permission state
type api struct {
	orchestrator *dictation.Orchestrator
	bridge       *helper.Bridge
	permissions  *helper.PermissionCache
	store        history.Store
	log          *slog.Logger
}

func (s *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/{sessionID}/chunks", s.handleChunks)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/finalize", s.handleFinalize)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/transcriptions/last", s.handleLast)
	mux.HandleFunc("GET /v1/transcriptions/recent", s.handleRecent)
	if s.permissions != nil {
		mux.HandleFunc("GET /v1/permissions/{name}", s.handlePermission)
	}
}

// transcriptionResponse is the JSON body returned by the chunk and finalize
// endpoints.
type transcriptionResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// handleChunks handles POST /v1/sessions/{sessionID}/chunks. The body is raw
// little-endian 16-bit mono PCM at 16 kHz; it is split into pipeline frames
// and fed through the orchestrator. The response carries the accumulated
// partial transcription after the last frame.
func (s *api) handleChunks(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	pcm, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(pcm) > maxChunkBytes {
		http.Error(w, "chunk exceeds 1 MiB", http.StatusRequestEntityTooLarge)
		return
	}
	if len(pcm) == 0 {
		http.Error(w, "empty chunk", http.StatusBadRequest)
		return
	}

	samples := audio.PCM16ToFloat32(pcm)

	var partial string
	for off := 0; off < len(samples); off += audio.FrameSamples {
		end := min(off+audio.FrameSamples, len(samples))
		text, err := s.orchestrator.ProcessChunk(r.Context(), sessionID, audio.NewFrame(samples[off:end]))
		if err != nil {
			http.Error(w, "transcription failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		partial = text
	}

	writeJSON(w, http.StatusOK, transcriptionResponse{SessionID: sessionID, Text: partial})
}

// handleFinalize handles POST /v1/sessions/{sessionID}/finalize. The final
// text is inserted at the cursor through the helper when one is running;
// insertion failure is logged but does not fail the request, the caller
// still gets the text.
func (s *api) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	text, err := s.orchestrator.FinalizeSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "finalize failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.bridge != nil && text != "" {
		if err := s.bridge.InsertText(r.Context(), text); err != nil {
			if errors.Is(err, helper.ErrUnavailable) || errors.Is(err, helper.ErrTimeout) {
				s.log.Warn("text insertion skipped", "session", sessionID, "err", err)
			} else {
				s.log.Error("text insertion failed", "session", sessionID, "err", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, transcriptionResponse{SessionID: sessionID, Text: text})
}

// handleCancel handles POST /v1/sessions/{sessionID}/cancel. Cancelling an
// unknown session is a no-op, matching the orchestrator semantics.
func (s *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.CancelSession(r.Context(), r.PathValue("sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

// handleLast handles GET /v1/transcriptions/last.
func (s *api) handleLast(w http.ResponseWriter, r *http.Request) {
	text, ok := s.orchestrator.LastTranscription()
	if !ok {
		http.Error(w, "no transcription yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// handleRecent handles GET /v1/transcriptions/recent?limit=N.
func (s *api) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "history unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string][]history.Entry{"transcriptions": entries})
}

// handlePermission handles GET /v1/permissions/{name}, serving the cached
// grant state.
func (s *api) handlePermission(w http.ResponseWriter, r *http.Request) {
	name := helper.Permission(r.PathValue("name"))
	if name != helper.PermissionAccessibility && name != helper.PermissionMicrophone {
		http.Error(w, "unknown permission", http.StatusNotFound)
		return
	}

	// The cache tracks accessibility; other permissions go straight to the
	// helper.
	var granted bool
	var err error
	if name == helper.PermissionAccessibility {
		granted, err = s.permissions.Granted(r.Context())
	} else {
		granted, err = s.bridge.CheckPermission(r.Context(), name)
	}
	if err != nil {
		http.Error(w, "permission check failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"permission": name, "granted": granted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
