package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/hamzasheedi/secure-hub/internal/auth"
	"github.com/hamzasheedi/secure-hub/internal/crypto"
)

type decryptReq struct {
	Password string `json:"password"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	recs, err := s.vault.List(r.Context(), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	limit := s.cfg.MaxPayloadBytes + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	// Keep the whole form in memory so nothing spills to temp files.
	if err := r.ParseMultipartForm(limit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONStatus(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload_too_large", Message: "file exceeds the size limit"})
			return
		}
		badRequest(w, "expected multipart form with file and password")
		return
	}
	defer r.MultipartForm.RemoveAll()

	password := []byte(r.FormValue("password"))
	defer crypto.Zero(password)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxPayloadBytes+1))
	if err != nil {
		badRequest(w, "unreadable file")
		return
	}
	defer crypto.Zero(data)

	rec, err := s.vault.Encrypt(r.Context(), owner, hdr.Filename, data, password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, rec)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	rec, err := s.vault.Get(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	ok, wait := s.rlDecryptIP.allow(clientIP(r, s.cfg.TrustProxy))
	if ok {
		ok, wait = s.rlDecryptFile.allow(owner + "|" + id)
	}
	if !ok {
		s.logger.WithFields(logrus.Fields{"owner_id": owner, "file_id": id}).Warn("decrypt rate limited")
		tooMany(w, int(math.Ceil(wait.Seconds())))
		return
	}

	var req decryptReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil || req.Password == "" {
		badRequest(w, "expected JSON body with password")
		return
	}
	password := []byte(req.Password)
	defer crypto.Zero(password)

	pt, err := s.vault.Decrypt(r.Context(), id, owner, password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer crypto.Zero(pt)
	rec, err := s.vault.Get(r.Context(), id, owner)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(pt)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pt)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if err := s.vault.Delete(r.Context(), r.PathValue("id"), owner); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	err := s.vault.VerifyAudit(r.Context())
	report, ok := reportFor(err)
	if !ok {
		s.writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, err := auth.OwnerID(r)
	if err != nil {
		writeJSONStatus(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "missing identity"})
		return "", false
	}
	return owner, true
}
