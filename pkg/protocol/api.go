// Package protocol defines the API request/response types.
package protocol

// RequestIDHeader carries a request ID from the client to the server, which
// logs under it and echoes it back.
const RequestIDHeader = "X-Request-ID"

// EntryType tells folders and files apart on the wire.
type EntryType string

const (
	EntryFolder EntryType = "Folder"
	EntryFile   EntryType = "File"
)

// Meta carries the descriptive fields of an entry.
type Meta struct {
	Name string `json:"name"`
}

// FlatItem is one child in a folder listing.
type FlatItem struct {
	Name      string    `json:"name"`
	EntryType EntryType `json:"entry_type"`
}

// FlatTree is returned by GET /api/v1/tree/{path}: the entry and its
// immediate children.
type FlatTree struct {
	Meta       Meta       `json:"meta"`
	EntryType  EntryType  `json:"entry_type"`
	SubEntries []FlatItem `json:"sub_entries"`
}

// ChildrenResponse is returned by GET /api/v1/children/{path}.
type ChildrenResponse struct {
	Path     string     `json:"path"`
	Children []FlatItem `json:"children"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// Event types published on GET /api/v1/events.
const (
	EventCreate = "create"
	EventDelete = "delete"
)

// Event describes a mutation of the tree.
type Event struct {
	Type      string    `json:"type"`
	Path      string    `json:"path"`
	EntryType EntryType `json:"entry_type"`
	Files     int       `json:"files,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NodeInfo is a node of the nested subtree returned by
// GET /api/v1/subtree/{path}.
type NodeInfo struct {
	Name       string    `json:"name"`
	Kind       EntryType `json:"kind"`
	ContentRef string    `json:"content_ref,omitempty"`
}

// Subtree is the nested form of a folder and everything below it.
type Subtree struct {
	Node     NodeInfo  `json:"node"`
	Children []Subtree `json:"children"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Entries int    `json:"entries"`
}
