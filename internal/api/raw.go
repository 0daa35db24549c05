package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/internal/storage"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// handleRaw streams the bytes of a file entry.
func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	display := fstree.JoinPath(path)

	h := s.openAt(w, r, "raw", path)
	if h == nil {
		return
	}
	node, err := h.Get()
	if err != nil {
		s.fail(w, r, "raw", display, err)
		return
	}
	if !node.IsFile() {
		metrics.RecordFSOperation("raw", "failed")
		s.sendError(w, http.StatusBadRequest, "not a file", display)
		return
	}

	totalSize, err := s.content.Size(r.Context(), node.ContentRef)
	if err != nil {
		if storage.IsNotFound(err) {
			err = fstree.OperationFailed("content missing", err)
		}
		s.fail(w, r, "raw", display, err)
		return
	}

	offset, length, hasRange := parseRangeHeader(r.Header.Get("Range"), totalSize)
	if hasRange && length <= 0 {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable", display)
		return
	}

	var reader io.ReadCloser
	if hasRange {
		reader, _, err = s.content.Open(r.Context(), node.ContentRef, offset, length)
	} else {
		reader, _, err = s.content.Open(r.Context(), node.ContentRef, 0, 0)
	}
	if err != nil {
		s.fail(w, r, "raw", display, fstree.OperationFailed("read content", err))
		return
	}
	defer reader.Close()

	ct := mime.TypeByExtension(filepath.Ext(node.Name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Accept-Ranges", "bytes")

	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		w.WriteHeader(http.StatusOK)
	}

	n, err := io.Copy(w, reader)
	if err != nil {
		logging.Warn("content transfer error", zap.String("path", display), zap.Error(err))
	}
	metrics.RecordFSOperation("raw", "ok")
	metrics.RecordContentDownload(n)
}

func parseRangeHeader(rangeHeader string, totalSize int64) (offset, length int64, hasRange bool) {
	if rangeHeader == "" {
		return 0, totalSize, false
	}

	matches := rangeRegex.FindStringSubmatch(rangeHeader)
	if matches == nil {
		return 0, totalSize, false
	}

	startStr, endStr := matches[1], matches[2]
	if startStr == "" && endStr == "" {
		return 0, totalSize, false
	}

	if startStr == "" {
		suffix, _ := strconv.ParseInt(endStr, 10, 64)
		offset = totalSize - suffix
		if offset < 0 {
			offset = 0
		}
		return offset, totalSize - offset, true
	}

	offset, _ = strconv.ParseInt(startStr, 10, 64)
	if offset >= totalSize {
		return offset, 0, true
	}

	if endStr != "" {
		end, _ := strconv.ParseInt(endStr, 10, 64)
		length = end - offset + 1
	} else {
		length = totalSize - offset
	}
	if offset+length > totalSize {
		length = totalSize - offset
	}

	return offset, length, true
}
