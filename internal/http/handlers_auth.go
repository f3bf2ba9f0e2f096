package http

import (
	"net/http"

	"numtrack/internal/auth"
	applog "numtrack/internal/log"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := auth.Validate(req); err != nil {
		s.writeError(w, r, applog.OpLogin, err)
		return
	}

	resp, err := s.otp.Login(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, applog.OpLogin, err)
		return
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req auth.ResendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := auth.Validate(req); err != nil {
		s.writeError(w, r, applog.OpLogin, err)
		return
	}

	resp, err := s.otp.Resend(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, applog.OpLogin, err)
		return
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req auth.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := auth.Validate(req); err != nil {
		s.writeError(w, r, applog.OpVerify, err)
		return
	}

	email, err := s.otp.Verify(r.Context(), req.UserID, req.OTP)
	if err != nil {
		s.writeError(w, r, applog.OpVerify, err)
		return
	}
	token, err := s.tokens.Issue(req.UserID, email)
	if err != nil {
		s.writeError(w, r, applog.OpVerify, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "User logged in",
		applog.FieldOwner, req.UserID,
		applog.FieldComponent, applog.ComponentAuth)
	NewJSONResponse().Body(auth.VerifyResponse{
		Token: token,
		User:  auth.User{ID: req.UserID, Email: email},
	}).Write(w)
}
