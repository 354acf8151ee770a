package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/joshmstewart/bestdayministries-sub013/internal/checkout/domain"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	obscontext "github.com/joshmstewart/bestdayministries-sub013/internal/observability/context"
)

const maxCheckoutBody = 64 << 10

func (s *Server) CreateDonationCheckout(c *gin.Context) {
	s.createCheckout(c, ledgerdomain.KindDonation)
}

func (s *Server) CreateSponsorshipCheckout(c *gin.Context) {
	s.createCheckout(c, ledgerdomain.KindSponsorship)
}

func (s *Server) createCheckout(c *gin.Context, kind ledgerdomain.Kind) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCheckoutBody)

	var req checkoutdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.checkoutSvc.CreateSession(c.Request.Context(), kind, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tagMode(c, string(result.Mode))
	c.JSON(http.StatusOK, result)
}

// tagMode exposes the resolved processor mode to the request log and span.
func tagMode(c *gin.Context, mode string) {
	c.Request = c.Request.WithContext(obscontext.WithMode(c.Request.Context(), mode))
}
