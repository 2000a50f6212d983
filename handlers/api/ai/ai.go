// Package ai serves the assisted-editing endpoints: layout suggestions,
// image analysis and background removal.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"wallora-server/handlers/api/httperr"
	"wallora-server/handlers/api/sessions"
	"wallora-server/layout"
	"wallora-server/removebg"
)

const maxImageBytes = 50 << 20

type (
	// BackgroundRemover strips the background from an uploaded image.
	BackgroundRemover interface {
		Enabled() bool
		Remove(ctx context.Context, image []byte, filename string) ([]byte, error)
	}

	LayoutSuggestionsRequest struct {
		Items    []layout.Input `json:"items"`
		WallSize layout.Size    `json:"wallSize"`
	}

	LayoutSuggestionsResponse struct {
		Success     bool               `json:"success"`
		Suggestions []layout.Candidate `json:"suggestions"`
	}

	AnalyzeResponse struct {
		Success  bool            `json:"success"`
		Analysis layout.Analysis `json:"analysis"`
	}

	RemoveBackgroundResponse struct {
		Success bool   `json:"success"`
		Image   string `json:"image"`
	}

	ServiceStatus struct {
		RemoveBG bool `json:"removeBg"`
		Layout   bool `json:"layout"`
		Analysis bool `json:"analysis"`
	}

	StatusResponse struct {
		Status ServiceStatus `json:"status"`
	}
)

func HandleStatus(remover BackgroundRemover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, StatusResponse{Status: ServiceStatus{
			RemoveBG: remover != nil && remover.Enabled(),
			Layout:   true,
			Analysis: true,
		}})
	}
}

func HandleLayoutSuggestions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessions.ClaimsFrom(w, r); !ok {
			return
		}

		var req LayoutSuggestionsRequest
		if err := render.DecodeJSON(io.LimitReader(r.Body, 10<<20), &req); err != nil {
			httperr.Write(w, r, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}

		suggestions, err := layout.Suggest(req.Items, req.WallSize)
		if err != nil {
			httperr.Render(w, r, err, "Failed to generate layout suggestions")
			return
		}

		render.JSON(w, r, LayoutSuggestionsResponse{Success: true, Suggestions: suggestions})
	}
}

func HandleAnalyze() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessions.ClaimsFrom(w, r); !ok {
			return
		}

		data, _, ok := readImage(w, r)
		if !ok {
			return
		}
		analysis, err := layout.Analyze(data)
		if err != nil {
			httperr.Render(w, r, err, "Failed to analyze image")
			return
		}

		render.JSON(w, r, AnalyzeResponse{Success: true, Analysis: analysis})
	}
}

func HandleRemoveBackground(remover BackgroundRemover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessions.ClaimsFrom(w, r)
		if !ok {
			return
		}
		if remover == nil || !remover.Enabled() {
			httperr.Write(w, r, http.StatusServiceUnavailable, "Background removal is not configured on the server")
			return
		}

		data, filename, ok := readImage(w, r)
		if !ok {
			return
		}

		out, err := remover.Remove(r.Context(), data, filename)
		if err != nil {
			logrus.WithError(err).WithField("user_id", claims.Subject).Error("Background removal failed")
			status := http.StatusBadGateway
			if errors.Is(err, removebg.ErrNotConfigured) {
				status = http.StatusServiceUnavailable
			}
			httperr.Write(w, r, status, "Failed to remove background")
			return
		}

		render.JSON(w, r, RemoveBackgroundResponse{
			Success: true,
			Image:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(out),
		})
	}
}

// readImage reads the "image" file of a multipart upload.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		httperr.Write(w, r, http.StatusBadRequest, "No image file provided")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httperr.Write(w, r, http.StatusBadRequest, "Failed to read image")
		return nil, "", false
	}
	return data, header.Filename, true
}
