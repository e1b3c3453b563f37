package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and job processing.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	jobsSubmitted = make(map[string]int64)
	jobsFinished  = make(map[jobKey]int64)
	filesFinished = make(map[string]int64)
	stepRetries   = make(map[string]int64)
	chunksStored  int64

	retentionJobsDeleted int64

	searchRequestsTotal = make(map[string]int64)
	searchResultsTotal  = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type jobKey struct {
	Kind   string
	Status string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordJobSubmitted counts accepted submissions by kind (single|batch).
func RecordJobSubmitted(kind string) {
	mu.Lock()
	defer mu.Unlock()
	jobsSubmitted[kind]++
}

// RecordJobFinished counts jobs reaching a terminal status.
func RecordJobFinished(kind, status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsFinished[jobKey{Kind: kind, Status: status}]++
}

// RecordFileFinished counts per-file outcomes and the chunks they stored.
func RecordFileFinished(status string, chunks int) {
	mu.Lock()
	defer mu.Unlock()
	filesFinished[status]++
	if chunks > 0 {
		chunksStored += int64(chunks)
	}
}

// RecordStepRetry counts retries of a pipeline step after a transient error.
func RecordStepRetry(step string) {
	mu.Lock()
	defer mu.Unlock()
	stepRetries[step]++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL.
func RecordRetentionJobs(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted += deleted
}

// RecordSearch records a similarity search against a collection and the
// number of matches returned.
func RecordSearch(collection string, results int) {
	mu.Lock()
	defer mu.Unlock()
	searchRequestsTotal[collection]++
	if results > 0 {
		searchResultsTotal[collection] += int64(results)
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP docflow_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE docflow_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "docflow_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP docflow_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE docflow_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP docflow_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE docflow_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "docflow_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "docflow_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP docflow_jobs_submitted_total Jobs accepted by kind\n")
	b.WriteString("# TYPE docflow_jobs_submitted_total counter\n")
	for _, k := range sortedKeys(jobsSubmitted) {
		fmt.Fprintf(&b, "docflow_jobs_submitted_total{kind=\"%s\"} %d\n", k, jobsSubmitted[k])
	}

	b.WriteString("# HELP docflow_jobs_finished_total Jobs reaching a terminal status\n")
	b.WriteString("# TYPE docflow_jobs_finished_total counter\n")
	var jobKeys []jobKey
	for k := range jobsFinished {
		jobKeys = append(jobKeys, k)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].Kind != jobKeys[j].Kind {
			return jobKeys[i].Kind < jobKeys[j].Kind
		}
		return jobKeys[i].Status < jobKeys[j].Status
	})
	for _, k := range jobKeys {
		fmt.Fprintf(&b, "docflow_jobs_finished_total{kind=\"%s\",status=\"%s\"} %d\n", k.Kind, k.Status, jobsFinished[k])
	}

	b.WriteString("# HELP docflow_files_finished_total Files processed by outcome\n")
	b.WriteString("# TYPE docflow_files_finished_total counter\n")
	for _, k := range sortedKeys(filesFinished) {
		fmt.Fprintf(&b, "docflow_files_finished_total{status=\"%s\"} %d\n", k, filesFinished[k])
	}

	b.WriteString("# HELP docflow_chunks_stored_total Chunks written to the vector store\n")
	b.WriteString("# TYPE docflow_chunks_stored_total counter\n")
	fmt.Fprintf(&b, "docflow_chunks_stored_total %d\n", chunksStored)

	b.WriteString("# HELP docflow_step_retries_total Retries after transient step errors\n")
	b.WriteString("# TYPE docflow_step_retries_total counter\n")
	for _, k := range sortedKeys(stepRetries) {
		fmt.Fprintf(&b, "docflow_step_retries_total{step=\"%s\"} %d\n", k, stepRetries[k])
	}

	b.WriteString("# HELP docflow_search_requests_total Similarity searches by collection\n")
	b.WriteString("# TYPE docflow_search_requests_total counter\n")
	for _, k := range sortedKeys(searchRequestsTotal) {
		fmt.Fprintf(&b, "docflow_search_requests_total{collection=\"%s\"} %d\n", k, searchRequestsTotal[k])
	}

	b.WriteString("# HELP docflow_search_results_total Search matches returned by collection\n")
	b.WriteString("# TYPE docflow_search_results_total counter\n")
	for _, k := range sortedKeys(searchResultsTotal) {
		fmt.Fprintf(&b, "docflow_search_results_total{collection=\"%s\"} %d\n", k, searchResultsTotal[k])
	}

	b.WriteString("# HELP docflow_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE docflow_retention_jobs_deleted_total counter\n")
	fmt.Fprintf(&b, "docflow_retention_jobs_deleted_total %d\n", retentionJobsDeleted)

	return b.String()
}
