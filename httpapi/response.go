package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"xdao.co/certledger/certerr"
	"xdao.co/certledger/issuance"
)

// errorResponse is the standard error response body.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RuleID    string `json:"rule_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CertificateResponse is the JSON representation of a stored certificate.
type CertificateResponse struct {
	Address         string  `json:"address"`
	Bump            uint8   `json:"bump"`
	CID             string  `json:"cid"`
	Issuer          string  `json:"issuer"`
	InstitutionID   string  `json:"institution_id"`
	InstitutionName string  `json:"institution_name"`
	CandidateID     string  `json:"candidate_id"`
	CandidateName   string  `json:"candidate_name"`
	IssuedAt        int64   `json:"issued_at"`
	Description     string  `json:"description"`
	URI             *string `json:"uri,omitempty"`
	Token           string  `json:"token,omitempty"`
}

func toCertificateResponse(is *issuance.Issued) CertificateResponse {
	r := is.Record
	return CertificateResponse{
		Address:         is.Address.String(),
		Bump:            is.Bump,
		CID:             is.ContentCID.String(),
		Issuer:          r.Issuer.String(),
		InstitutionID:   r.InstitutionID,
		InstitutionName: r.InstitutionName,
		CandidateID:     r.CandidateID,
		CandidateName:   r.CandidateName,
		IssuedAt:        r.IssuedAt,
		Description:     r.Description,
		URI:             r.URI,
		Token:           is.Token,
	}
}

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch certerr.KindOf(err) {
	case certerr.KindInputTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case certerr.KindAlreadyExists:
		return fiber.StatusConflict
	case certerr.KindAuthorization:
		return fiber.StatusUnauthorized
	case certerr.KindDecoding:
		return fiber.StatusUnprocessableEntity
	case certerr.KindInvalidInput:
		return fiber.StatusBadRequest
	case certerr.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := errorResponse{
		Message:   err.Error(),
		RuleID:    certerr.RuleID(err),
		RequestID: requestID(c),
	}
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		body.Code = "HTTP"
	case certerr.KindOf(err) != "":
		body.Code = string(certerr.KindOf(err))
	default:
		body.Code = string(certerr.KindInternal)
	}
	if status >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "request_id", body.RequestID, "error", err)
		body.Message = "internal server error"
	}
	return c.Status(status).JSON(body)
}

func badRequest(msg string) error {
	return certerr.New(certerr.KindInvalidInput, "CERT-HTTP-001", msg)
}
