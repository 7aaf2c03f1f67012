package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/zlnvch/storystack/models"
	"github.com/zlnvch/storystack/provider"
)

type UploadFile struct {
	Filename    string
	Description string
	Data        []byte
}

// UploadResult is the per-file outcome. A failed file carries its error
// kind; successful files carry the created slide.
type UploadResult struct {
	Filename string        `json:"filename"`
	Error    string        `json:"error,omitempty"`
	Slide    *models.Slide `json:"slide,omitempty"`
}

type uploadProgressData struct {
	Filename string `json:"filename"`
	Stage    string `json:"stage"`
	Error    string `json:"error,omitempty"`
}

type uploadProgressMessage struct {
	Type string             `json:"type"`
	Data uploadProgressData `json:"data"`
}

// UploadBatch pushes local files to the provider in two phases: raw
// bytes for an upload token, then a batch create. Files are processed
// sequentially so per-filename progress stays meaningfully ordered.
// A failed file is reported and skipped; it never aborts the rest, and
// already-created items are never rolled back.
func (s *Service) UploadBatch(ctx context.Context, user models.User, stackId string, files []UploadFile) ([]UploadResult, error) {
	token, err := s.providerToken(ctx, user.Id)
	if err != nil {
		return nil, err
	}

	results := make([]UploadResult, len(files))
	type pendingCreate struct {
		fileIndex   int
		uploadToken string
	}
	var pending []pendingCreate

	for i, file := range files {
		results[i] = UploadResult{Filename: file.Filename}
		s.publishUploadProgress(ctx, stackId, file.Filename, "uploading", "")

		uploadToken, err := s.Provider.UploadBytes(ctx, token, file.Filename, file.Data)
		if err != nil {
			uploadErr := NewError(KindUploadFailed, "upload failed for "+file.Filename, err)
			results[i].Error = string(KindOf(uploadErr))
			s.publishUploadProgress(ctx, stackId, file.Filename, "failed", results[i].Error)
			log.Printf("Upload failed for %s: %v", file.Filename, err)
			continue
		}

		pending = append(pending, pendingCreate{fileIndex: i, uploadToken: uploadToken})
		s.publishUploadProgress(ctx, stackId, file.Filename, "uploaded", "")
	}

	if len(pending) == 0 {
		return results, nil
	}

	newItems := make([]provider.NewItem, 0, len(pending))
	for _, p := range pending {
		newItems = append(newItems, provider.NewItem{
			Description: files[p.fileIndex].Description,
			UploadToken: p.uploadToken,
		})
	}

	created, err := s.Provider.BatchCreate(ctx, token, newItems)
	if err != nil {
		classified := classifyProviderError(err)
		for _, p := range pending {
			results[p.fileIndex].Error = string(KindUploadFailed)
			s.publishUploadProgress(ctx, stackId, files[p.fileIndex].Filename, "failed", string(KindUploadFailed))
		}
		return results, classified
	}

	// Creation results come back in request order
	var importable []models.ProviderItem
	var importIndexes []int
	for j, p := range pending {
		filename := files[p.fileIndex].Filename
		if j >= len(created) || created[j].Status != 0 {
			results[p.fileIndex].Error = string(KindUploadFailed)
			s.publishUploadProgress(ctx, stackId, filename, "failed", string(KindUploadFailed))
			continue
		}

		item := created[j].Item
		if item.Filename == "" {
			item.Filename = filename
		}
		importable = append(importable, item)
		importIndexes = append(importIndexes, p.fileIndex)
		s.publishUploadProgress(ctx, stackId, filename, "created", "")
	}

	if len(importable) > 0 {
		slides, err := s.AppendMedia(ctx, stackId, importable)
		if err != nil {
			return results, err
		}
		for k := range slides {
			results[importIndexes[k]].Slide = &slides[k]
		}
	}

	return results, nil
}

func (s *Service) publishUploadProgress(ctx context.Context, stackId string, filename string, stage string, errKind string) {
	msg := uploadProgressMessage{
		Type: "upload_progress",
		Data: uploadProgressData{Filename: filename, Stage: stage, Error: errKind},
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.Cache.Publish(ctx, "stack:"+stackId, msgBytes); err != nil {
		log.Printf("Failed to publish upload progress for %s: %v", filename, err)
	}
}
