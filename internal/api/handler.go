package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/vault"
)

// handleAction handles POST /v1/integration-secrets. The caller is admitted
// before the body is decoded.
func (s *Server) handleAction(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	principal, err := s.gate.Admit(ctx, c.GetHeader("Authorization"))
	if err != nil {
		s.fail(c, err, nil, start)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		s.fail(c, verrors.Validation("could not read request body"), nil, start)
		return
	}
	if len(body) > maxBodyBytes {
		s.fail(c, verrors.Validation("request body too large"), nil, start)
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		s.fail(c, err, nil, start)
		return
	}
	c.Set(actionKey, req.Action())

	caller := vault.Caller{
		Principal: principal,
		UserAgent: c.Request.UserAgent(),
		RequestID: c.GetString(requestIDKey),
	}
	resp, err := s.dispatch(ctx, caller, req)
	if err != nil {
		s.fail(c, err, req.secrets(), start)
		return
	}

	c.JSON(http.StatusOK, resp)
	s.metrics.RecordRequest(req.Action(), http.StatusOK, time.Since(start).Seconds())
}

func (s *Server) dispatch(ctx context.Context, caller vault.Caller, req Request) (interface{}, error) {
	switch r := req.(type) {
	case *ListRequest:
		items, err := s.svc.List(ctx, caller)
		if err != nil {
			return nil, err
		}
		return gin.H{"items": items}, nil

	case *SetMasterKeyRequest:
		if err := s.svc.SetMasterKey(ctx, caller, r.MasterKey); err != nil {
			return nil, err
		}
		return gin.H{"ok": true}, nil

	case *RotateMasterKeyRequest:
		result, err := s.svc.RotateMasterKey(ctx, caller, r.OldMasterKey, r.NewMasterKey)
		if err != nil {
			return nil, err
		}
		return gin.H{"ok": true, "reencrypted": result.Reencrypted}, nil

	case *UpsertSecretRequest:
		if err := s.svc.UpsertSecret(ctx, caller, r.Provider, r.Name, r.Value); err != nil {
			return nil, err
		}
		return gin.H{"ok": true}, nil

	case *GetRequest:
		return s.svc.GetSecretStatus(ctx, caller, r.Provider, r.Name)

	case *RevealRequest:
		return s.svc.RevealSecret(ctx, caller, r.Provider, r.Name)

	case *SetRequest:
		usage, err := s.svc.SetAPIKey(ctx, caller, r.APIKey)
		if err != nil {
			return nil, err
		}
		return gin.H{"ok": true, "usage": usage}, nil

	case *ClearRequest:
		if err := s.svc.ClearSecret(ctx, caller, r.Provider, r.Name); err != nil {
			return nil, err
		}
		return gin.H{"ok": true}, nil

	default:
		return nil, verrors.Validation("unsupported action %q", req.Action())
	}
}

// fail writes {"error": message} with the status for err's kind.
func (s *Server) fail(c *gin.Context, err error, secrets []string, start time.Time) {
	status := verrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request %s failed: %s", c.GetString(requestIDKey), logging.Redact(err.Error(), secrets))
	} else {
		s.logger.Debug("Request %s rejected: %s", c.GetString(requestIDKey), logging.Redact(err.Error(), secrets))
	}

	action := c.GetString(actionKey)
	if action == "" {
		action = "unknown"
	}
	s.metrics.RecordRequest(action, status, time.Since(start).Seconds())
	c.AbortWithStatusJSON(status, gin.H{"error": verrors.PublicMessage(err)})
}
