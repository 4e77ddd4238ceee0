package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/zsiec/splitter/internal/demux"
	apperrors "github.com/zsiec/splitter/internal/errors"
	"github.com/zsiec/splitter/internal/media"
	"github.com/zsiec/splitter/internal/session"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 64 << 10

type openRequest struct {
	Locator string `json:"locator"`
}

type seekRequest struct {
	// Position and Stop accept a duration string ("1m30s") or an integer
	// count of 100ns units.
	Position string `json:"position"`
	Stop     string `json:"stop,omitempty"`
	Mode     string `json:"mode,omitempty"`
	StopMode string `json:"stop_mode,omitempty"`
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

type selectRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type positionsResponse struct {
	Current      media.Time   `json:"current"`
	Stop         media.Time   `json:"stop"`
	Duration     media.Time   `json:"duration"`
	Earliest     media.Time   `json:"earliest"`
	Latest       media.Time   `json:"latest"`
	Rate         float64      `json:"rate"`
	Capabilities []string     `json:"capabilities"`
	Human        humanOffsets `json:"human"`
}

type humanOffsets struct {
	Current  string `json:"current"`
	Stop     string `json:"stop"`
	Duration string `json:"duration"`
}

type chaptersResponse struct {
	Chapters []demux.Chapter `json:"chapters"`
	Current  int             `json:"current,omitempty"`
}

type keyFramesResponse struct {
	Stream    int          `json:"stream"`
	Count     int          `json:"count"`
	KeyFrames []media.Time `json:"keyframes"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.sessions.Open(r.Context(), req.Locator)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID())
	s.writeJSON(w, r, http.StatusCreated, sess.Snapshot())
}

// handleListSessions lists local sessions, or with ?scope=cluster every
// session in the registry.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scope") == "cluster" {
		records, err := s.sessions.Records(r.Context())
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrorTypeServiceDown, "Session registry unavailable"))
			return
		}
		s.writeJSON(w, r, http.StatusOK, records)
		return
	}

	sessions := s.sessions.List()
	out := make([]session.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Snapshot())
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type controlAction int

const (
	controlPlay controlAction = iota
	controlPause
	controlStop
)

func (s *Server) handleControl(action controlAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}

		var err error
		switch action {
		case controlPlay:
			err = sess.Play()
		case controlPause:
			err = sess.Pause()
		case controlStop:
			err = sess.Stop()
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
	}
}

func parseSeekMode(mode string) (demux.SeekFlags, error) {
	switch strings.ToLower(mode) {
	case "", "absolute":
		return demux.AbsolutePositioning, nil
	case "relative":
		return demux.RelativePositioning, nil
	case "incremental":
		return demux.IncrementalPositioning, nil
	case "none":
		return demux.NoPositioning, nil
	}
	return 0, apperrors.NewValidationError("unknown seek mode %q", mode)
}

func parsePosition(field, value string) (media.Time, error) {
	t, err := media.ParseTime(value)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid %s %q", field, value)
	}
	return t, nil
}

// handleSeek moves the current and optionally the stop position. Without
// a stop value the stop position is left unchanged.
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req seekRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	currentFlags, err := parseSeekMode(req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var current media.Time
	if currentFlags != demux.NoPositioning {
		if current, err = parsePosition("position", req.Position); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	stopFlags := demux.NoPositioning
	var stop media.Time
	if req.Stop != "" {
		if stopFlags, err = parseSeekMode(req.StopMode); err != nil {
			s.writeError(w, r, err)
			return
		}
		if stop, err = parsePosition("stop", req.Stop); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	if stopFlags == demux.NoPositioning {
		err = sess.Seek(r.Context(), current, currentFlags)
	} else {
		err = sess.SetPositions(r.Context(), current, currentFlags, stop, stopFlags)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePositions(w, r, sess.Splitter())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writePositions(w, r, sess.Splitter())
}

type seekerWithRate interface {
	demux.Seeker
	demux.RateController
}

func (s *Server) writePositions(w http.ResponseWriter, r *http.Request, sp seekerWithRate) {
	current, stop := sp.GetPositions()
	earliest, latest := sp.GetAvailable()
	duration := sp.GetDuration()
	s.writeJSON(w, r, http.StatusOK, positionsResponse{
		Current:      current,
		Stop:         stop,
		Duration:     duration,
		Earliest:     earliest,
		Latest:       latest,
		Rate:         sp.GetRate(),
		Capabilities: sp.GetCapabilities().Names(),
		Human: humanOffsets{
			Current:  current.String(),
			Stop:     stop.String(),
			Duration: duration.String(),
		},
	})
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req rateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.SetRate(req.Rate); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writePositions(w, r, sess.Splitter())
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var sel demux.StreamSelector = sess.Splitter()
	out := make([]demux.StreamInfo, 0, sel.Count())
	for i := 0; i < sel.Count(); i++ {
		info, err := sel.Info(i)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, info)
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleEnableStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("stream index must be an integer"))
		return
	}
	if err := sess.Enable(r.Context(), index); err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := sess.Splitter().Info(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) handleSelectStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req selectRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := sess.SelectStream(r.Context(), req.From, req.To); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var cl demux.ChapterLister = sess.Splitter()
	resp := chaptersResponse{Chapters: cl.ListChapters()}
	if resp.Chapters == nil {
		resp.Chapters = []demux.Chapter{}
	}
	if len(resp.Chapters) > 0 {
		if current, err := cl.CurrentChapter(); err == nil {
			resp.Current = current
		}
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleKeyFrames(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	streamID, err := strconv.Atoi(r.URL.Query().Get("stream"))
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("query parameter stream must be an integer"))
		return
	}

	var kl demux.KeyFrameLister = sess.Splitter()
	kfs, err := kl.ListKeyFrames(streamID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if kfs == nil {
		kfs = []media.Time{}
	}
	s.writeJSON(w, r, http.StatusOK, keyFramesResponse{
		Stream:    streamID,
		Count:     len(kfs),
		KeyFrames: kfs,
	})
}
