package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/luca-patrignani/greetme/identity"
	"github.com/luca-patrignani/greetme/ledger"
)

const (
	maxBodyBytes    = 16 << 10
	maxNonceLength  = 128
	defaultPageSize = 10
)

// SubmitRequest is the body of POST /greetings. Signature is the Schnorr
// signature of identity.SubmitMessage(Text, Nonce) under PublicKey, both hex
// encoded.
type SubmitRequest struct {
	Text      string `json:"text"`
	Nonce     string `json:"nonce"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type CountResponse struct {
	Total int `json:"total"`
}

type AuthorResponse struct {
	Author    string            `json:"author"`
	Greetings []ledger.Greeting `json:"greetings"`
}

type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) error {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return newError(http.StatusBadRequest, CodeBadRequest, "malformed request body: %v", err)
	}
	if req.Nonce == "" || len(req.Nonce) > maxNonceLength {
		return newError(http.StatusBadRequest, CodeBadRequest, "nonce must be between 1 and %d bytes", maxNonceLength)
	}
	if s.cfg.MaxTextLength > 0 && utf8.RuneCountInString(req.Text) > s.cfg.MaxTextLength {
		return newError(http.StatusBadRequest, CodeTextTooLong, "greeting longer than %d characters", s.cfg.MaxTextLength)
	}

	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		return newError(http.StatusBadRequest, CodeInvalidKey, "public key is not hex: %v", err)
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return newError(http.StatusBadRequest, CodeInvalidSignature, "signature is not hex: %v", err)
	}
	if err := identity.Verify(pub, identity.SubmitMessage(req.Text, req.Nonce), sig); err != nil {
		if errors.Is(err, identity.ErrInvalidKey) {
			return newError(http.StatusBadRequest, CodeInvalidKey, "%v", err)
		}
		return newError(http.StatusUnauthorized, CodeInvalidSignature, "%v", err)
	}
	author, err := identity.Address(pub)
	if err != nil {
		return newError(http.StatusBadRequest, CodeInvalidKey, "%v", err)
	}

	receipt, err := s.ledger.SubmitOnce(r.Context(), author, req.Nonce, req.Text)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, receipt)
	return nil
}

func (s *Server) greetings(w http.ResponseWriter, r *http.Request) error {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return err
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil {
		return err
	}
	if s.cfg.MaxPageSize > 0 && size > s.cfg.MaxPageSize {
		return newError(http.StatusBadRequest, CodeInvalidPage, "size must be at most %d", s.cfg.MaxPageSize)
	}
	p, err := s.ledger.Greetings(page, size)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, p)
	return nil
}

func (s *Server) count(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, CountResponse{Total: s.ledger.Total()})
	return nil
}

func (s *Server) greeting(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return newError(http.StatusBadRequest, CodeBadRequest, "invalid id: %v", err)
	}
	g, err := s.ledger.Get(id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, g)
	return nil
}

func (s *Server) byAuthor(w http.ResponseWriter, r *http.Request) error {
	author := mux.Vars(r)["address"]
	writeJSON(w, http.StatusOK, AuthorResponse{Author: author, Greetings: s.ledger.ByAuthor(author)})
	return nil
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, s.ledger.Status())
	return nil
}

func (s *Server) payouts(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, s.ledger.Payouts())
	return nil
}

func (s *Server) verify(w http.ResponseWriter, _ *http.Request) error {
	if err := s.ledger.Verify(); err != nil {
		s.logger.Error("ledger verification failed", "error", err)
		writeJSON(w, http.StatusOK, VerifyResponse{Valid: false, Error: err.Error()})
		return nil
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: true})
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newError(http.StatusBadRequest, CodeInvalidPage, "%s must be an integer, got %q", name, raw)
	}
	return v, nil
}
