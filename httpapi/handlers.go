package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"xdao.co/certledger/address"
	"xdao.co/certledger/authority"
	"xdao.co/certledger/issuance"
)

// IssueRequest is the body of POST /v1/certificates.
type IssueRequest struct {
	issuance.Request
	Proof authority.Proof `json:"proof"`
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Token string `json:"token"`
}

func (s *Server) issue(c *fiber.Ctx) error {
	var body IssueRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}

	is, err := s.engine.Issue(c.UserContext(), body.Request, body.Proof)
	if err != nil {
		return err
	}

	c.Location("/v1/certificates/" + is.Address.String())
	return c.Status(fiber.StatusCreated).JSON(toCertificateResponse(is))
}

func (s *Server) fetch(c *fiber.Ctx) error {
	addr, err := address.Parse(c.Params("address"))
	if err != nil {
		return badRequest("invalid address")
	}
	is, err := s.engine.Fetch(c.UserContext(), addr)
	if err != nil {
		return err
	}
	return c.JSON(toCertificateResponse(is))
}

func (s *Server) list(c *fiber.Ctx) error {
	addrs, err := s.engine.List(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return c.JSON(fiber.Map{"addresses": out})
}

func (s *Server) status(c *fiber.Ctx) error {
	inst, cand := c.Query("institution_id"), c.Query("candidate_id")
	if inst == "" || cand == "" {
		return badRequest("institution_id and candidate_id are required")
	}
	issuedAt, err := strconv.ParseInt(c.Query("issued_at"), 10, 64)
	if err != nil {
		return badRequest("issued_at must be an integer")
	}
	addr, taken, err := s.engine.Status(c.UserContext(), inst, cand, issuedAt)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"address": addr.String(), "taken": taken})
}

func (s *Server) verify(c *fiber.Ctx) error {
	if s.tokens == nil {
		return fiber.NewError(fiber.StatusNotFound, "verification tokens are disabled")
	}
	var body VerifyRequest
	if err := c.BodyParser(&body); err != nil || body.Token == "" {
		return badRequest("a token is required")
	}
	is, claims, err := s.tokens.Verify(c.UserContext(), body.Token, s.engine)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"valid":       true,
		"attestor":    claims.Issuer,
		"certificate": toCertificateResponse(is),
	})
}
