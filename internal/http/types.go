package http

// ErrorResponse is the error envelope for every non-2xx response.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// EmbeddingJobResponse is returned with 202 Accepted by both submission
// endpoints. TotalFiles is only set for batches.
type EmbeddingJobResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	CollectionName string `json:"collection_name"`
	TotalFiles     int    `json:"total_files,omitempty"`
	Message        string `json:"message"`
}

type CollectionInfo struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

type CollectionsResponse struct {
	Collections      []CollectionInfo `json:"collections"`
	TotalCollections int              `json:"total_collections"`
}

type HealthResponse struct {
	Status           string   `json:"status"`
	Timestamp        string   `json:"timestamp"`
	Store            string   `json:"store"`
	Queue            string   `json:"queue"`
	Redis            string   `json:"redis"`
	AllowedFileTypes []string `json:"allowed_file_types"`
	MaxFileSizeMB    int      `json:"max_file_size_mb"`
}
