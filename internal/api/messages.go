package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/orchestrator"
	"github.com/ipsix/scamshield/internal/risk"
)

// Extension message actions.
const (
	ActionGetCurrentScan = "getCurrentScan"
	ActionScanURL        = "scanUrl"
	ActionClearCache     = "clearCache"
	ActionGetHistory     = "getHistory"
)

type Message struct {
	Action string `json:"action"`
	TabID  int    `json:"tabId"`
	URL    string `json:"url"`
}

type ScanStarted struct {
	Started bool   `json:"started"`
	ScanID  string `json:"scanId,omitempty"`
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// handleMessage accepts the extension-message shape and answers the way the
// popup expects: a ScanResult or null for getCurrentScan.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := decodeBody(w, r, &msg); err != nil {
		writeError(w, err)
		return
	}
	payload, err := s.dispatch(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) dispatch(ctx context.Context, msg Message) (interface{}, error) {
	switch msg.Action {
	case ActionGetCurrentScan:
		record, err := s.currentScan(ctx, msg.TabID, msg.URL)
		if err != nil || record == nil {
			return nil, err
		}
		return record.Result, nil
	case ActionScanURL:
		return s.scanURL(msg.URL, msg.TabID)
	case ActionClearCache:
		if err := s.clearCache(); err != nil {
			return nil, err
		}
		return map[string]bool{"success": true}, nil
	case ActionGetHistory:
		return s.deps.Scans.History(), nil
	default:
		return nil, &statusError{code: http.StatusBadRequest, msg: "unknown action: " + msg.Action}
	}
}

func (s *Server) handleCurrentScan(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.URL.Query().Get("tabId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tabId must be an integer"})
		return
	}
	record, err := s.currentScan(r.Context(), tabID, r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := decodeBody(w, r, &msg); err != nil {
		writeError(w, err)
		return
	}
	started, err := s.scanURL(msg.URL, msg.TabID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	if err := s.clearCache(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scans.History())
}

func (s *Server) handleNavigated(w http.ResponseWriter, r *http.Request) {
	s.handleTabEvent(w, r, s.deps.Scans.NavigationComplete)
}

func (s *Server) handleActivated(w http.ResponseWriter, r *http.Request) {
	s.handleTabEvent(w, r, s.deps.Scans.TabActivated)
}

func (s *Server) handleClosed(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := decodeBody(w, r, &msg); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Scans.TabClosed(msg.TabID); err != nil {
		s.logger.Warn("forget tab failed", logging.F("tab_id", msg.TabID), logging.Err(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTabEvent(w http.ResponseWriter, r *http.Request, trigger func(int, string) (string, bool)) {
	var msg Message
	if err := decodeBody(w, r, &msg); err != nil {
		writeError(w, err)
		return
	}
	scanID, started := trigger(msg.TabID, msg.URL)
	writeJSON(w, http.StatusAccepted, ScanStarted{Started: started, ScanID: scanID})
}

func (s *Server) currentScan(ctx context.Context, tabID int, url string) (*risk.TabScanRecord, error) {
	record, err := s.deps.Scans.CurrentScan(ctx, tabID, url)
	if err != nil {
		s.logger.Warn("current scan lookup failed", logging.F("tab_id", tabID), logging.Err(err))
		return nil, err
	}
	return record, nil
}

func (s *Server) scanURL(url string, tabID int) (ScanStarted, error) {
	scanID, err := s.deps.Scans.ScanURL(url, tabID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoURL) {
			return ScanStarted{}, &statusError{code: http.StatusBadRequest, msg: err.Error()}
		}
		return ScanStarted{}, err
	}
	return ScanStarted{Started: true, ScanID: scanID}, nil
}

func (s *Server) clearCache() error {
	if err := s.deps.Scans.ClearCache(); err != nil {
		s.logger.Error("clear cache failed", logging.Err(err))
		return err
	}
	s.logger.Info("cache cleared")
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	var se *statusError
	if errors.As(err, &se) {
		writeJSON(w, se.code, map[string]string{"error": se.msg})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
