package models

// MediaBlob is a fetched remote resource ready to attach to an outbound
// message.
type MediaBlob struct {
	Data      []byte `json:"-"`
	MimeType  string `json:"mime_type"`
	FileName  string `json:"file_name,omitempty"`
	SourceURL string `json:"source_url,omitempty"` // where the blob was fetched from
}
