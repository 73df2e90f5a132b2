package mlserver

// handlers module holds all HTTP handlers functions
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/samber/lo"
	"github.com/uptrace/bunrouter"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/machine"
	"github.com/vkuznet/gordo-client/provider"
)

// maximum size of prediction request body
const maxBodySize = 256 << 20

// HTTPError represents HTTP error record
type HTTPError struct {
	Method    string `json:"method"`               // HTTP method
	Path      string `json:"path"`                 // URL path
	HTTPCode  int    `json:"http_code"`            // HTTP error code
	Code      int    `json:"code"`                 // server status code
	Reason    string `json:"reason"`               // error code reason
	Error     string `json:"error"`                // error message
	Timestamp string `json:"timestamp"`            // timestamp of the error
	RequestID string `json:"request_id,omitempty"` // X-Request-ID of the request
}

// helper function to get route parameter from http request
func param(r *http.Request, name string) string {
	params := bunrouter.ParamsFromContext(r.Context())
	return params.ByName(name)
}

// helper function to generate JSON response
func (s *Server) httpResponse(w http.ResponseWriter, r *http.Request, rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.httpError(w, r, JsonMarshal, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// helper function to provide standard HTTP error reply
func (s *Server) httpError(w http.ResponseWriter, r *http.Request, code int, err error, httpCode int) {
	hrec := HTTPError{
		Method:    r.Method,
		Path:      r.RequestURI,
		HTTPCode:  httpCode,
		Code:      code,
		Reason:    errorMessage(code),
		Error:     err.Error(),
		Timestamp: time.Now().String(),
		RequestID: r.Header.Get("X-Request-ID"),
	}
	if s.Config.Verbose > 0 {
		s.Log.Debug("HTTPError", "record", hrec)
	}
	data, e := json.MarshalIndent(hrec, "", "   ")
	if e != nil {
		data = []byte(e.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	w.Write(data)
}

// helper function to map store failures to server error codes, file
// system failures come from directory store
func storeErrorCode(err error) int {
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return FileIOError
	}
	return DatabaseError
}

// helper function to resolve requested revision, query parameter takes
// precedence over revision header and empty revision means the latest one
func (s *Server) revision(w http.ResponseWriter, r *http.Request) (string, []string, bool) {
	project := param(r, "project")
	revs, err := s.Store.Revisions(project)
	if err != nil {
		s.httpError(w, r, storeErrorCode(err), err, http.StatusInternalServerError)
		return "", nil, false
	}
	if len(revs) == 0 {
		s.httpError(w, r, ProjectError, fmt.Errorf("project %s is not served", project), http.StatusNotFound)
		return "", nil, false
	}
	rev := r.URL.Query().Get("revision")
	if rev == "" {
		rev = r.Header.Get("revision")
	}
	if rev == "" {
		return revs[len(revs)-1], revs, true
	}
	if !lo.Contains(revs, rev) {
		err := fmt.Errorf("revision %s of project %s is not served, latest revision is %s", rev, project, revs[len(revs)-1])
		s.httpError(w, r, RevisionError, err, http.StatusGone)
		return "", nil, false
	}
	return rev, revs, true
}

// helper function to get machine record of requested revision
func (s *Server) record(w http.ResponseWriter, r *http.Request) (*Record, bool) {
	rev, _, ok := s.revision(w, r)
	if !ok {
		return nil, false
	}
	rec, err := s.Store.Machine(param(r, "project"), rev, param(r, "machine"))
	if errors.Is(err, ErrRecordNotFound) {
		s.httpError(w, r, MachineError, err, http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.httpError(w, r, storeErrorCode(err), err, http.StatusInternalServerError)
		return nil, false
	}
	return rec, true
}

// RevisionsHandler provides served revisions of the project
func (s *Server) RevisionsHandler(w http.ResponseWriter, r *http.Request) {
	project := param(r, "project")
	revs, err := s.Store.Revisions(project)
	if err != nil {
		s.httpError(w, r, storeErrorCode(err), err, http.StatusInternalServerError)
		return
	}
	if len(revs) == 0 {
		s.httpError(w, r, ProjectError, fmt.Errorf("project %s is not served", project), http.StatusNotFound)
		return
	}
	latest := revs[len(revs)-1]
	rev := r.URL.Query().Get("revision")
	if rev == "" || !lo.Contains(revs, rev) {
		rev = latest
	}
	s.httpResponse(w, r, map[string]any{
		"latest":              latest,
		"available-revisions": revs,
		"revision":            rev,
	})
}

// ModelsHandler provides names of served machines
func (s *Server) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	rev, _, ok := s.revision(w, r)
	if !ok {
		return
	}
	records, err := s.Store.Machines(param(r, "project"), rev)
	if err != nil {
		s.httpError(w, r, storeErrorCode(err), err, http.StatusInternalServerError)
		return
	}
	names := lo.Map(records, func(rec Record, _ int) string { return rec.Name })
	s.httpResponse(w, r, map[string]any{"models": names, "revision": rev})
}

// MetadataHandler provides machine metadata
func (s *Server) MetadataHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	s.httpResponse(w, r, map[string]any{
		"metadata":             rec.Metadata,
		"revision":             rec.Revision,
		"gordo-server-version": version,
		"env":                  map[string]any{"anomaly": rec.Anomaly},
	})
}

// DownloadModelHandler provides serialized machine model
func (s *Server) DownloadModelHandler(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pkl", rec.Name))
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Model)
}

// PredictionRequest represents body of POST prediction request
type PredictionRequest struct {
	X map[string]any `json:"X"`
	Y map[string]any `json:"y,omitempty"`
}

// PredictionHandler provides machine predictions, for POST requests on
// posted data and for GET requests on data of server data provider
func (s *Server) PredictionHandler(anomaly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec, ok := s.record(w, r)
		if !ok {
			return
		}
		if anomaly && !rec.Anomaly {
			err := fmt.Errorf("machine %s is not an anomaly model", rec.Name)
			s.httpError(w, r, UnsupportedRequest, err, http.StatusUnprocessableEntity)
			return
		}
		m, err := machine.FromConfig(rec.Metadata, rec.Project)
		if err != nil {
			s.httpError(w, r, MachineError, err, http.StatusInternalServerError)
			return
		}
		resolution, err := m.Dataset.ResolutionDuration()
		if err != nil {
			s.httpError(w, r, MachineError, err, http.StatusInternalServerError)
			return
		}

		var X, y *frame.Frame
		if r.Method == http.MethodPost {
			X, y, err = s.postedData(w, r)
		} else {
			X, y, err = s.providedData(r, m, resolution)
		}
		if err != nil {
			s.httpError(w, r, BadRequest, err, http.StatusBadRequest)
			return
		}
		out, err := predict(m, X, y, anomaly, resolution)
		if err != nil {
			s.httpError(w, r, PredictionError, err, http.StatusBadRequest)
			return
		}
		s.httpResponse(w, r, map[string]any{
			"data":         out.ToDict(),
			"revision":     rec.Revision,
			"time-seconds": fmt.Sprintf("%.4f", time.Since(start).Seconds()),
		})
	}
}

// helper function to decode posted X and y frames
func (s *Server) postedData(w http.ResponseWriter, r *http.Request) (*frame.Frame, *frame.Frame, error) {
	var body io.Reader = http.MaxBytesReader(w, r.Body, maxBodySize)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		defer gz.Close()
		body = GzipReader{Reader: gz, Closer: r.Body}
	}
	var req PredictionRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("unable to decode prediction request: %w", err)
	}
	if len(req.X) == 0 {
		return nil, nil, errors.New("prediction request has no X")
	}
	X, err := frame.FromDict(req.X)
	if err != nil {
		return nil, nil, err
	}
	if req.Y == nil {
		return X, nil, nil
	}
	y, err := frame.FromDict(req.Y)
	if err != nil {
		return nil, nil, err
	}
	return X, y, nil
}

// helper function to load X and y of the machine using server data provider
func (s *Server) providedData(r *http.Request, m *machine.Machine, resolution time.Duration) (*frame.Frame, *frame.Frame, error) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid start parameter: %w", err)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid end parameter: %w", err)
	}
	tags := lo.UniqBy(append(append([]machine.SensorTag{}, m.Dataset.TagList...), m.TargetTags()...),
		func(t machine.SensorTag) string { return t.Name })
	data, err := s.Provider.Load(r.Context(), start, end, tags, resolution)
	if errors.Is(err, provider.ErrNoData) {
		return nil, nil, fmt.Errorf("no data for %s - %s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
	}
	if err != nil {
		return nil, nil, err
	}
	X, err := data.Pick(columns(m.TagNames())...)
	if err != nil {
		return nil, nil, err
	}
	y, err := data.Pick(columns(m.TargetTagNames())...)
	if err != nil {
		return nil, nil, err
	}
	return X, y, nil
}

// HealthcheckHandler reports server status
func (s *Server) HealthcheckHandler(w http.ResponseWriter, r *http.Request) {
	s.httpResponse(w, r, map[string]any{"gordo-server-version": version, "status": "ok"})
}

// DocsHandler provides server API documentation
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
	content := mdToHTML(append([]byte(nil), apiDocs...))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}
