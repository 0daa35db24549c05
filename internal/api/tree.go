package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/internal/storage"
	"github.com/fruitsalade/aftp/pkg/protocol"
)

// ─── Reads ──────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	h := s.openAt(w, r, "tree", path)
	if h == nil {
		return
	}
	sub, err := h.Tree()
	if err != nil {
		s.fail(w, r, "tree", fstree.JoinPath(path), err)
		return
	}
	metrics.RecordFSOperation("tree", "ok")
	sendJSON(w, r, http.StatusOK, sub.Flatten())
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	h := s.openAt(w, r, "list", path)
	if h == nil {
		return
	}
	children, err := h.ListChildren()
	if err != nil {
		s.fail(w, r, "list", fstree.JoinPath(path), err)
		return
	}
	items := make([]protocol.FlatItem, 0, len(children))
	for _, c := range children {
		items = append(items, c.FlatItem())
	}
	metrics.RecordFSOperation("list", "ok")
	sendJSON(w, r, http.StatusOK, protocol.ChildrenResponse{
		Path:     fstree.JoinPath(path),
		Children: items,
	})
}

func (s *Server) handleSubtree(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	h := s.openAt(w, r, "subtree", path)
	if h == nil {
		return
	}
	sub, err := h.Tree()
	if err != nil {
		s.fail(w, r, "subtree", fstree.JoinPath(path), err)
		return
	}
	metrics.RecordFSOperation("subtree", "ok")
	sendJSON(w, r, http.StatusOK, sub)
}

// ─── Create ─────────────────────────────────────────────────────────────────

// handleCreate adds the entry named by the last path segment under its
// parent. An empty body creates a folder; any other body creates a file
// holding those bytes.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	display := fstree.JoinPath(path)
	if len(path) == 0 {
		s.fail(w, r, "create", display, fstree.OperationFailed("cannot overwrite root", nil))
		return
	}
	parent, name := path[:len(path)-1], path[len(path)-1]

	h := s.openAt(w, r, "create", parent)
	if h == nil {
		return
	}

	if r.ContentLength > s.maxUploadSize {
		s.fail(w, r, "create", display, &http.MaxBytesError{Limit: s.maxUploadSize})
		return
	}

	body := bufio.NewReader(http.MaxBytesReader(w, r.Body, s.maxUploadSize))
	_, peekErr := body.Peek(1)
	if peekErr != nil && peekErr != io.EOF {
		s.fail(w, r, "create", display, peekErr)
		return
	}

	node := fstree.NewFolder(name)
	if peekErr == nil {
		ref := storage.NewContentRef(name)
		if err := s.storeContent(r, ref, body); err != nil {
			var tooLarge *http.MaxBytesError
			if !errors.As(err, &tooLarge) {
				err = fstree.OperationFailed("store content", err)
			}
			s.fail(w, r, "create", display, err)
			return
		}
		node = fstree.NewFile(name, ref)
	}

	created, err := h.CreateEntry(r.Context(), node)
	if created == nil {
		if node.IsFile() {
			if rmErr := s.content.Remove(context.WithoutCancel(r.Context()), node.ContentRef); rmErr != nil {
				logging.WithContext(r.Context()).Warn("orphaned content",
					zap.String("ref", node.ContentRef), zap.Error(rmErr))
			}
		}
		s.fail(w, r, "create", display, err)
		return
	}

	metrics.SetTreeSize(s.tree.Size())
	s.publishEvent(protocol.EventCreate, display, node.Kind.EntryType(), 0)
	if err != nil {
		// In memory but not in the snapshot.
		s.fail(w, r, "create", display, err)
		return
	}

	metrics.RecordFSOperation("create", "ok")
	logging.WithContext(r.Context()).Info("entry created",
		zap.String("path", display),
		zap.Stringer("kind", node.Kind),
		zap.String("ref", node.ContentRef))
	sendJSON(w, r, http.StatusCreated, created.Flatten())
}

// storeContent writes the request body under ref. Bodies without a declared
// length are buffered so every backend receives a known size.
func (s *Server) storeContent(r *http.Request, ref string, body io.Reader) error {
	if r.ContentLength >= 0 {
		return s.content.Put(r.Context(), ref, body, r.ContentLength)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	return s.content.Put(r.Context(), ref, bytes.NewReader(data), int64(len(data)))
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := requestPath(r)
	display := fstree.JoinPath(path)

	h := s.openAt(w, r, "delete", path)
	if h == nil {
		return
	}

	removed, err := h.DeleteEntry(r.Context())
	if removed == nil {
		s.fail(w, r, "delete", display, err)
		return
	}

	metrics.SetTreeSize(s.tree.Size())
	files := removed.Files()
	// The entry is gone from the tree; its content goes too even if the
	// client has hung up.
	if relErr := s.content.Release(context.WithoutCancel(r.Context()), removed); relErr != nil && err == nil {
		err = fstree.OperationFailed("release content", relErr)
	}
	s.publishEvent(protocol.EventDelete, display, removed.Node.Kind.EntryType(), len(files))
	if err != nil {
		s.fail(w, r, "delete", display, err)
		return
	}

	metrics.RecordFSOperation("delete", "ok")
	logging.WithContext(r.Context()).Info("entry deleted",
		zap.String("path", display),
		zap.Int("files", len(files)))
	sendJSON(w, r, http.StatusOK, removed.Flatten())
}
