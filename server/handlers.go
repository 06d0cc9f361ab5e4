package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/stateshift/rollup-httpd/rollup"
	"github.com/stateshift/rollup-httpd/state"
)

// indexResponse is the body returned by voucher and notice inserts.
type indexResponse struct {
	Index uint64 `json:"index"`
}

// sizeResponse is the body returned by raw_state_size.
type sizeResponse struct {
	Size uint64 `json:"size"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		// responses are built from our own types, this cannot happen
		panic(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// decodeJSON parses the request body into v, enforcing the configured body
// size limit. On failure it answers the request with a 400 and returns
// false.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		s.logger.Error("malformed request body", "err", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleVoucher(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug("received voucher request")

	var voucher rollup.Voucher
	if !s.decodeJSON(w, r, &voucher) {
		return
	}
	if err := voucher.ValidateBasic(); err != nil {
		s.logger.Error("invalid voucher destination", "destination", voucher.Destination, "err", err)
		writeError(w, http.StatusBadRequest, "address not valid")
		return
	}

	index, err := s.device.EmitVoucher(r.Context(), &voucher)
	if err != nil {
		s.metrics.DeviceErrors.Add(1)
		s.logger.Error("unable to insert voucher", "err", err)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unable to insert voucher, error details: '%s'", err))
		return
	}

	s.metrics.Vouchers.Add(1)
	writeJSON(w, http.StatusCreated, indexResponse{Index: index})
}

func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug("received notice request")

	var notice rollup.Notice
	if !s.decodeJSON(w, r, &notice) {
		return
	}

	index, err := s.device.EmitNotice(r.Context(), &notice)
	if err != nil {
		s.metrics.DeviceErrors.Add(1)
		s.logger.Error("unable to insert notice", "err", err)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unable to insert notice, error details: '%s'", err))
		return
	}

	s.metrics.Notices.Add(1)
	writeJSON(w, http.StatusCreated, indexResponse{Index: index})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug("received report request")

	var report rollup.Report
	if !s.decodeJSON(w, r, &report) {
		return
	}

	if err := s.device.EmitReport(r.Context(), &report); err != nil {
		s.metrics.DeviceErrors.Add(1)
		s.logger.Error("unable to insert report", "err", err)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unable to insert report, error details: '%s'", err))
		return
	}

	s.metrics.Reports.Add(1)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGIO(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug("received gio request")

	var req rollup.GIORequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.ValidateBasic(); err != nil {
		s.logger.Error("invalid gio request", "domain", req.Domain, "err", err)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unable to process gio request, error details: '%s'", err))
		return
	}

	resp, err := s.device.GIO(r.Context(), &req)
	if err != nil {
		s.metrics.DeviceErrors.Add(1)
		s.logger.Error("unable to process gio request", "err", err)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unable to process gio request, error details: '%s'", err))
		return
	}

	s.metrics.GIORequests.Add(1)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleException(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug("received exception request")

	var exception rollup.Exception
	if !s.decodeJSON(w, r, &exception) {
		return
	}

	if err := s.device.ThrowException(r.Context(), &exception); err != nil {
		s.metrics.DeviceErrors.Add(1)
		s.logger.Error("unable to throw exception", "err", err)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unable to throw exception, error details: '%s'", err))
		return
	}

	s.metrics.Exceptions.Add(1)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.logger.Debug("received finish request")

	var finish rollup.FinishRequest
	if !s.decodeJSON(w, r, &finish) {
		return
	}
	accept, err := finish.Accept()
	if err != nil {
		s.logger.Error("invalid finish status", "status", finish.Status)
		writeError(w, http.StatusBadRequest, "status must be 'accept' or 'reject'")
		return
	}

	// The device call parks until the node delivers the next rollup
	// request, which can take arbitrarily long. A vanished client is
	// reported through the request context and releases the device to the
	// next finish.
	s.metrics.FinishInflight.Add(1)
	begin := time.Now()
	req, err := s.device.Finish(r.Context(), accept)
	s.metrics.FinishWaitSeconds.Observe(time.Since(begin).Seconds())
	s.metrics.FinishInflight.Add(-1)
	if err != nil {
		s.metrics.DeviceErrors.Add(1)
		s.logger.Error("unable to perform finish request", "err", err)
		if errors.Is(err, rollup.ErrFinishTransaction) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("error performing initial finish request: '%s'", err))
		} else {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("error fetching next rollup request: '%s'", err))
		}
		return
	}

	s.logger.Info("received new rollup request", "type", req.Type())
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRawStateRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	offset, err := strconv.ParseUint(ps.ByName("offset"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid offset: %v", err))
		return
	}
	size, err := strconv.ParseUint(ps.ByName("size"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid size: %v", err))
		return
	}

	data, err := s.drive.Read(offset, size)
	if err != nil {
		s.rawStateError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleRawStateWrite(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	offset, err := strconv.ParseUint(ps.ByName("offset"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid offset: %v", err))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	if err := s.drive.Write(offset, data); err != nil {
		s.rawStateError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Data written successfully")
}

func (s *Server) handleRawStateSize(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	size, err := s.drive.Size()
	if err != nil {
		s.rawStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sizeResponse{Size: size})
}

// rawStateError maps state drive failures to HTTP errors. Out-of-bounds
// windows are the caller's fault, anything else means the drive itself is
// missing or broken.
func (s *Server) rawStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, state.ErrOutOfBounds) {
		s.logger.Error("raw state access out of bounds", "err", err)
		writeError(w, http.StatusBadRequest, "Offset and size exceed memory bounds")
		return
	}
	s.logger.Error("raw state access failed", "drive", s.drive.Path(), "err", err)
	writeError(w, http.StatusInternalServerError, "Failed to open pmem device")
}
