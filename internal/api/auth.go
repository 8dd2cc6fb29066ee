package api

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/theory-cloud/storefront/pkg/account"
	"github.com/theory-cloud/storefront/pkg/i18n"
	"github.com/theory-cloud/storefront/pkg/identity"
	"github.com/theory-cloud/storefront/pkg/model"
	"github.com/theory-cloud/storefront/pkg/phoneauth"
)

type gateResponse struct {
	Identity  *identity.Identity `json:"identity,omitempty"`
	SessionID string             `json:"sessionId"`
	State     model.GateState    `json:"state"`
	Phone     string             `json:"phone,omitempty"`
	Token     string             `json:"token,omitempty"`
}

func newGateResponse(gate *phoneauth.Gate) gateResponse {
	snap := gate.Snapshot()
	return gateResponse{SessionID: snap.ID, State: snap.State, Phone: snap.Phone}
}

// loadGate restores the caller's checkout session and echoes its id in the response header
func (s *Server) loadGate(w http.ResponseWriter, r *http.Request) (*phoneauth.Gate, error) {
	gate, err := s.Sessions.Load(r.Context(), r.Header.Get(SessionHeader))
	if err != nil {
		return nil, err
	}
	w.Header().Set(SessionHeader, gate.Snapshot().ID)
	return gate, nil
}

func (s *Server) requestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CountryCode    string `json:"countryCode"`
		PhoneNumber    string `json:"phoneNumber"`
		RecaptchaToken string `json:"recaptchaToken"`
		Language       string `json:"language"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	gate, err := s.loadGate(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	lang := req.Language
	if lang != i18n.English && lang != i18n.Arabic {
		lang = i18n.FromRequest(r)
	}

	// The gate is saved even when sending fails: the previous challenge was already revoked.
	sendErr := gate.RequestCode(r.Context(), req.CountryCode, req.PhoneNumber, req.RecaptchaToken, clientIP(r), lang)
	if err := s.Sessions.Save(r.Context(), gate); err != nil {
		s.writeError(w, r, errors.Join(sendErr, err))
		return
	}
	if sendErr != nil {
		s.writeError(w, r, sendErr)
		return
	}
	writeJSON(w, http.StatusAccepted, newGateResponse(gate))
}

func (s *Server) confirmCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	gate, err := s.loadGate(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := gate.ConfirmCode(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Sessions.Save(r.Context(), gate); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := newGateResponse(gate)
	resp.Identity = &id
	if !id.IsGuest() {
		token, err := s.Issuer.Issue(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Token = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) gateStatus(w http.ResponseWriter, r *http.Request) {
	gate, err := s.loadGate(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGateResponse(gate))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.Accounts.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.Accounts.Profile(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req account.ProfileUpdate
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.Accounts.UpdateProfile(r.Context(), identity.FromContext(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// clientIP prefers the first X-Forwarded-For hop, which API Gateway and load balancers set
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
