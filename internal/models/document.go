package models

import "time"

// SourceType is the declared type of an uploaded document
type SourceType string

const (
	SourcePDF SourceType = "pdf"
	SourceTXT SourceType = "txt"
)

// Document is the metadata record of an ingested file
type Document struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceType SourceType `json:"type"`
	ByteSize   int64      `json:"size"`
	RawText    string     `json:"extractedText,omitempty"`
	ChunkIDs   []string   `json:"chunkIds"`
	UploadedAt time.Time  `json:"uploadDate"`
}

// Chunk represents a slice of a document's text with its position
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Position   int
	Offset     int
}

// Record is a single upsert unit for a vector index
type Record struct {
	ID         string
	Vector     []float32
	Text       string
	DocumentID string
	Position   int
	Model      string
}

// Match is a query hit returned by a vector index, best first
type Match struct {
	ChunkID    string
	Score      float64
	Text       string
	DocumentID string
	Position   int
	Model      string
}

type IngestRequest struct {
	Filename string
	MIMEType string
	Data     []byte
}

type IngestResult struct {
	Document   *Document
	ChunkCount int
	IndexedIDs []string
}

type QueryRequest struct {
	Question string
}

type QueryResponse struct {
	Answer        string   `json:"answer"`
	RelevantTexts []string `json:"relevantTexts"`
	SourceCount   int      `json:"sources"`
}
