package httpapi

import (
	"github.com/fechatter/messaging-core/internal/apperrors"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/gofiber/fiber/v2"
)

type IdentityHandler struct {
	gate *identitygate.Gate
}

func NewIdentityHandler(g *identitygate.Gate) *IdentityHandler {
	return &IdentityHandler{gate: g}
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

func (h *IdentityHandler) Signin(c *fiber.Ctx) error {
	var req signinRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	pair, err := h.gate.Signin(c.Context(), req.Email, req.Password, c.Get("User-Agent"))
	if err != nil {
		return err
	}
	return c.JSON(toTokenPairResponse(pair))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *IdentityHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.New(apperrors.InvalidArgument, "malformed request body")
	}
	pair, err := h.gate.RefreshToken(c.Context(), req.RefreshToken, c.Get("User-Agent"))
	if err != nil {
		return err
	}
	return c.JSON(toTokenPairResponse(pair))
}

func toTokenPairResponse(p *identitygate.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken: p.AccessToken, RefreshToken: p.RefreshToken,
		ExpiresAt: p.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
